// Package config provides the crawl configuration for d2crawl: defaults,
// the YAML configuration file, .env loading for the API key, and validation.
package config
