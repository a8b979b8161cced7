// Package transcode drives ffmpeg to normalize source media into the single
// H.264/AAC MP4 profile every platform upload consumes.
package transcode
