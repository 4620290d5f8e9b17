// Package watcher presents one directory's image files as an ordered initial
// snapshot followed by a live stream of add/remove events.
//
// Raw filesystem notifications are coalesced: every notification for an
// image file restarts a short debounce timer, and when the directory has been
// quiet for the whole window each touched path is classified once against
// the set of files already reported. A writer that creates, renames and
// rewrites a file therefore produces a single Added event.
//
// A Watcher watches at most one directory at a time. Starting a new directory
// tears the previous session down first, and Stop guarantees that no event
// for the old session is delivered after it returns.
package watcher
