// Package notifications delivers job lifecycle events via pluggable
// notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set.
// Per-event toggles let operators silence queued or published chatter while
// keeping failure alerts on.
package notifications
