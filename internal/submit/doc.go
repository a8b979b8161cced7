// Package submit validates publish requests and turns them into durable
// queue jobs.
package submit
