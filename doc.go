// Package fetchup is a REST client that turns resource descriptions into
// HTTP requests and layers a manual, timestamped response cache on top of a
// transport with its own HTTP cache:
//
//   - Resources describe method, path, query, headers and body, plus a decoder
//   - Query parameters are percent-encoded against a configurable CharacterSet
//   - Responses are classified into typed errors (network, HTTP status, empty data)
//   - Three cache modes per fetch: policy (transport decides), manual, disabled
//   - Manual entries are read back with Cached and a validity predicate
//   - Pluggable stores: in-memory, SQLite (store/sqlite), Redis (store/redis)
//   - Prometheus metrics and structured debug logging
//
// Typical usage:
//
//	client := fetchup.New(
//	    fetchup.WithBaseURL("https://api.example.com/v1/"),
//	    fetchup.WithInvalidateExpired(),
//	)
//	users := fetchup.Resource[[]User]{Descriptor: fetchup.Descriptor{Path: "users"}}
//	list, err := fetchup.Fetch(ctx, client, users, fetchup.CacheManual)
//	...
//	list, err = fetchup.Cached(ctx, client, users, client.MaxAge(time.Hour))
//
// Manual caching stores every successful response under a key computed from
// the request as built, regardless of Cache-Control, and suppresses the
// transport's own cache write for that fetch. The library never retries;
// IsTransient helps callers that do.
package fetchup
