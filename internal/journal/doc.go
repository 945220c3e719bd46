// Package journal records story state changes in SQLite.
//
// Every successful commit that overwrites a story's state on disk reports
// the tags it added and removed through the feed change hook. The journal
// stores those deltas so `skein history` can list them later. Writes retry on
// SQLITE_BUSY because the interface process and a worker may share the file.
package journal
