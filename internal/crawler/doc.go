// Package crawler walks a site as a tree of fetch tasks and hands every
// fetched page to the indexer.
//
// Each task fetches one URL, stores the page, and, for successful pages,
// schedules one child task per unseen same-site link after a short politeness
// pause. Tasks of all sites share one Scheduler (a bounded worker pool in
// production). A per-site in-flight counter acts as the join: when it drains,
// the site is finalized as INDEXED unless a task already marked it FAILED.
//
// Cancellation is cooperative through the context: it is checked when a task
// starts, before its links are expanded, and before its page is stored. A
// fetch already in progress is allowed to finish and its result is dropped.
package crawler
