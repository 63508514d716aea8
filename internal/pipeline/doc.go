// Package pipeline runs the concurrent fan-out stages of a crawl.
//
// A BatchProcessor runs one task per item with "gather all" semantics: each
// task succeeds or fails on its own and the batch waits for every task.
// Only errors marked with Fatal stop a batch early.
package pipeline
