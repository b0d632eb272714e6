// Package procutil provides cross-platform process utilities.
// Currently exposes Detach, which prepares an exec.Cmd to run as a
// fire-and-forget child: no console window flash on Windows, its own
// process group everywhere, and no stdio shared with the daemon.
package procutil
