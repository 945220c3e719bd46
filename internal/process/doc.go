// Package process is the interface-side proxy for the worker.
//
// A Handler owns the two channels to one worker at a time, starts it on
// first use, and restarts it after it dies. Launchers decide what a worker
// is: ExecLauncher re-executes the binary with the channel ends as inherited
// descriptors, InProcessLauncher runs the same loop on a goroutine over
// private copies of the feeds. Either way nothing is shared but messages.
//
// Flush and Kill are barriers: the handler sends a uniquely tokened marker
// and discards every result until the marker comes back, so no result
// computed under an older configuration survives them.
package process
