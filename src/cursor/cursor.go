// Package cursor implements the pagination primitive used by every large
// collection transferred during bootstrap.
package cursor

import (
	"fmt"

	"github.com/mosaicnetworks/bootsync/src/common"
)

// Status is the progress of a paginated stream.
type Status uint8

const (
	// NotStarted means no item has been sent yet.
	NotStarted Status = iota
	// InProgress means some items were sent; Last is the key of the last one.
	InProgress
	// Finished means the end of the collection was reached.
	Finished
)

// String ...
func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case InProgress:
		return "InProgress"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// Cursor is a resumption marker over a collection ordered by K. In the
// InProgress state Last is the key of the last item delivered; the next batch
// starts strictly after it.
type Cursor[K any] struct {
	Status Status
	Last   K
}

// Start returns a NotStarted cursor.
func Start[K any]() Cursor[K] {
	return Cursor[K]{Status: NotStarted}
}

// InProgressAt returns a cursor positioned after k.
func InProgressAt[K any](k K) Cursor[K] {
	return Cursor[K]{Status: InProgress, Last: k}
}

// Done returns a Finished cursor.
func Done[K any]() Cursor[K] {
	return Cursor[K]{Status: Finished}
}

// IsFinished ...
func (c Cursor[K]) IsFinished() bool {
	return c.Status == Finished
}

// String ...
func (c Cursor[K]) String() string {
	if c.Status == InProgress {
		return fmt.Sprintf("InProgress(%v)", c.Last)
	}
	return c.Status.String()
}

// Advance validates a batch of keys received for this cursor and returns the
// cursor positioned after them. Keys must be strictly increasing and strictly
// greater than the current position, and nothing may follow a Finished
// cursor.
func (c Cursor[K]) Advance(keys []K, finished bool, cmp func(a, b K) int) (Cursor[K], error) {
	if c.Status == Finished {
		return c, common.NewBootstrapErr(common.ProtocolViolation,
			"received %d items for a finished stream", len(keys))
	}
	last, hasLast := c.Last, c.Status == InProgress
	for i, k := range keys {
		if hasLast && cmp(last, k) >= 0 {
			return c, common.NewBootstrapErr(common.ProtocolViolation,
				"key %d of batch (%v) does not follow %v", i, k, last)
		}
		last, hasLast = k, true
	}
	switch {
	case finished:
		return Done[K](), nil
	case len(keys) == 0:
		return c, common.NewBootstrapErr(common.ProtocolViolation, "empty batch for an unfinished stream")
	default:
		return InProgressAt(last), nil
	}
}
