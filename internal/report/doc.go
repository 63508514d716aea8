// Package report renders a snapshot of the crawl store.
//
// Collect reads the totals, the activity count per game mode and the recent
// runs from the store into a CrawlReport. Writers render it:
//   - SimpleWriter: plain text for the terminal
//   - JSONWriter / FullJSONWriter: JSON for tooling, optionally versioned
//   - MarkdownWriter: tables, a mermaid pie chart of modes and an alert
//     about the last run
package report
