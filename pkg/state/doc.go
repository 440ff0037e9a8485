// Package state persists shared tool documents.
//
// A Store only loads and saves one DocumentSnapshot per Ref. Syncer moves
// snapshots in and out of a live toolsync.Document and owns optimistic
// concurrency: every save gets a fresh ETag, and Mutate refuses to write when
// the caller's ETag is stale.
//
// Data flow:
//
//	Store -> Syncer.Load -> Document.Restore
//	Document.Snapshot -> Syncer.Save -> Store
//
// The toolsync package never imports state; persistence stays behind Store
// implementations supplied by the embedding application.
package state
