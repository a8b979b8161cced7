// Package credentials stores per-user OAuth grants for each publishing
// platform and hands out usable access tokens, refreshing expired ones
// through the provider's token endpoint. Concurrent refreshes for the same
// (user, provider) key collapse into a single token exchange.
package credentials
