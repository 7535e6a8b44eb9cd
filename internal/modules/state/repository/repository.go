// Package repository persists the set of already-processed item IDs.
package repository

// Repository tracks which notification IDs have been processed so they are
// never delivered twice. Implementations absorb their own I/O errors; a
// failed write is logged and dropped, never surfaced to the poll loop.
type Repository interface {
	// IsSeen reports whether an ID has been processed.
	IsSeen(id string) bool
	// MarkSeen records an ID and persists immediately. Idempotent.
	MarkSeen(id string)
	// MarkMultipleSeen records a batch of IDs with a single persist.
	MarkMultipleSeen(ids []string)
	// Count returns the number of tracked IDs.
	Count() int
	// Clear drops all state.
	Clear()
}
