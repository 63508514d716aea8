// Package main provides the entry point for the d2crawl CLI.
//
// d2crawl crawls Destiny 2 PvP matches from the Bungie API. Starting from seed
// guardians it walks their activity history, stores every team match and
// every participant with their all-time PvP stats, and repeats with the
// participants as new sources.
//
// Usage:
//
//	d2crawl seed "Name#1234"
//	d2crawl crawl --budget 100
//	d2crawl report --markdown
//
// See --help for all available options.
package main

// main is the entry point for d2crawl.
func main() {
	Execute()
}
