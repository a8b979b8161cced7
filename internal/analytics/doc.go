// Package analytics stores one publish record per (job, platform) so
// downstream engagement tracking knows which platform post came from which
// job. Appends are idempotent across queue redeliveries.
package analytics
