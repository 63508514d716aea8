// Package bungie is the Destiny 2 platform API client used by the crawler.
//
// Every request goes through the same wrapper:
//  1. a token is taken from the shared rate limiter before each attempt,
//     retries included;
//  2. transient transport faults (connection reset, broken pipe, server
//     closed the connection, truncated payload) are retried after a fixed
//     delay for as long as the context lives;
//  3. the response envelope is decoded and any ErrorCode other than 1 is
//     returned as an *APIError.
//
// Expected absence (no search results, malformed date bounds) is reported as
// a nil result with a log line, never as an error.
package bungie
