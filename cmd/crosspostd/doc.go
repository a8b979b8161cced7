// Command crosspostd runs the publishing daemon: queue workers, the
// pipeline executor, and the HTTP API.
package main
