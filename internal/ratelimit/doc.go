// Package ratelimit provides the token bucket that gates every Bungie API
// request. Waiters poll the bucket at a fixed interval; there is no queue, so
// whichever waiter polls first after a refill gets the token.
package ratelimit
