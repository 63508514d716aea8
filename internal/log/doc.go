// Package log builds the slog loggers used by d2crawl.
//
// Every logger created here wraps its handler in a SecureHandler that masks
// credentials before they reach the output: the Bungie X-API-Key header, any
// attribute whose key names a secret, and values shaped like API keys or
// bearer tokens.
//
//	logger := log.New(os.Stderr, log.Options{Verbose: true})
//	logger.Info("request sent", "x-api-key", key) // x-api-key=***REDACTED***
//
// Membership, character and instance ids are plain decimal strings and pass
// through untouched.
package log
