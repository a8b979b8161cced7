// Package pipeline executes claimed publish jobs: fetch the source media
// into a per-attempt workspace, transcode it once, upload the result to every
// pending platform in parallel, record analytics for each success, and commit
// the derived final status. Platform failures are isolated; one platform's
// error never aborts another's upload.
package pipeline
