// Package worker runs the command loop that owns the authoritative copy of
// every feed.
//
// The worker receives commands on one channel and answers on another,
// strictly in receive order. It holds a private Feed per subscription and
// the same filter.Registry the interface built, so commands only need to
// name filters and sorts by index. Local failures such as an unreadable
// snapshot or a contended lock never escape: they become Dequeued results
// or silent no-ops. Only channel failures end the loop.
//
// The same loop serves both launch modes. In exec mode Serve wires it to
// inherited descriptors; in-process callers construct it with New directly.
package worker
