// Package main hosts the skein CLI entrypoint and command graph.
//
// Every command that reads feeds goes through the same path: load the
// configuration, build the filter registry and feeds, start a worker through
// the process handler, and talk to it with protocol messages. The hidden
// `worker` command is what the handler re-executes in exec mode.
//
// Keep this package lean: feed logic lives in the internal packages and the
// commands here only wire and render it.
package main
