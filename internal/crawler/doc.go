// Package crawler walks the Destiny 2 PvP graph: guardians lead to their
// match history, matches lead to their participants, and participants become
// the next sources.
//
// # Architecture
//
// The Orchestrator takes sources from a Frontier, one at a time, up to a
// budget. For every source it fetches the activity history and fans out in
// nested batches:
//
//	source -> history -> unseen activities -> carnage report -> roster
//	                  -> stored activities -> stored roster    -> stats
//
// Activities already stored are not fetched again, but their roster is
// re-read so that participants left behind by an interrupted run are
// completed. Private participants are stored with empty stats and never
// fetched.
//
// # Failure model
//
// A failed fetch of one activity or guardian is logged and counted; the
// entity stays unseen and is retried when another source references it.
// A failed history fetch leaves the source unconsumed and moves the cursor
// past it. Store faults and context cancellation end the run, and the source
// being walked stays unconsumed.
//
// # Resume
//
// The frontier persists its cursor in the store. A source is marked consumed
// only after its whole fan-out finished, so a restarted run picks up the
// source that was being walked.
//
// # Usage
//
//	o := crawler.New(client, db,
//		crawler.WithWindow(from, to),
//		crawler.WithConcurrency(10),
//	)
//	summary, err := o.Run(ctx, 100)
package crawler
