// Package uploader implements the per-platform publishers behind the fan-out
// stage. Each uploader takes the shared transcoded file plus the job's
// metadata and credential, speaks its platform's publish protocol, and maps
// API failures onto the shared error taxonomy.
package uploader
