// Command crosspost is the operator CLI for the crosspost publishing
// pipeline: submit jobs, inspect the queue, manage credentials, and check
// daemon status.
package main
