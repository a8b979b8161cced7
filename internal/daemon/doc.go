// Package daemon ties the queue, workflow manager, and HTTP API together
// into the long-running crosspostd process. A file lock keeps a host to one
// daemon instance.
package daemon
