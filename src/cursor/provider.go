package cursor

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/bootsync/src/common"
)

// ErrItemTooLarge is returned when a single item does not fit in a batch.
var ErrItemTooLarge = errors.New("item exceeds the batch byte cap")

// Limits bounds one batch. Whichever bound is reached first ends the batch.
type Limits struct {
	MaxItems int
	MaxBytes int
}

// Provider serves batches of a collection ordered by K. Implementations are
// read-only and safe for concurrent use.
type Provider[K, T any] interface {
	ReadBatch(c Cursor[K], lim Limits) ([]T, Cursor[K], error)
}

// Source is an ordered collection that supports successor iteration. Ascend
// calls fn for every item whose key is strictly greater than *after (every
// item when after is nil), in increasing key order, until fn returns false.
// size is the encoded size of the item.
type Source[K, T any] interface {
	Ascend(after *K, fn func(key K, item T, size int) bool) error
}

// Next reads the batch following c from src. The batch holds at most
// lim.MaxItems items and at most lim.MaxBytes bytes. The returned cursor is
// positioned on the last item returned, or Finished when src has no item
// beyond it. Positioning relies on key comparison only, so keys deleted from
// src between two calls do not break pagination.
func Next[K, T any](c Cursor[K], src Source[K, T], lim Limits) ([]T, Cursor[K], error) {
	if c.Status == Finished {
		return nil, c, nil
	}
	if lim.MaxItems <= 0 || lim.MaxBytes <= 0 {
		return nil, c, fmt.Errorf("invalid batch limits %+v", lim)
	}

	var after *K
	if c.Status == InProgress {
		last := c.Last
		after = &last
	}

	var (
		items   []T
		lastKey K
		total   int
		more    bool
		tooBig  bool
	)
	err := src.Ascend(after, func(key K, item T, size int) bool {
		if len(items) == lim.MaxItems || total+size > lim.MaxBytes {
			more = true
			tooBig = len(items) == 0
			return false
		}
		items = append(items, item)
		lastKey = key
		total += size
		return true
	})
	if err != nil {
		return nil, c, common.WrapBootstrapErr(common.ProviderUnavailable, err, "reading batch after %v", c)
	}
	if tooBig {
		return nil, c, fmt.Errorf("after %v: %w (%d)", c, ErrItemTooLarge, lim.MaxBytes)
	}
	if !more {
		return items, Done[K](), nil
	}
	return items, InProgressAt(lastKey), nil
}
