// Package archive writes crawled entities to rotating, brotli-compressed
// JSON lines chunks for bulk export.
//
// The archive is independent of the dedup store. Rows with the same key are
// merged keep-last, so a later append can correct an earlier one. Chunks can
// be read back with ReadChunk, or row by row with ScanChunk, and loaded into
// a store through its insert-if-absent path.
package archive
