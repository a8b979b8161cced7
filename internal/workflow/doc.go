// Package workflow coordinates queue processing. Worker loops claim ready
// jobs and run them through the pipeline; a heartbeat loop keeps claimed
// jobs owned while a reclaimer returns abandoned ones to the queue, giving
// at-least-once delivery across daemon crashes.
package workflow
