package grocery

import (
	"context"
	"errors"
	"fmt"
)

// Store is the remote row store behind the list. Implementations do not retry.
//
// Update and Delete receive both the item and its index in the local list.
// Backends target the row by item ID unless configured for legacy row
// addressing, in which case the row number is index + 2.
type Store interface {
	FetchAll(ctx context.Context) ([]Item, error)
	Add(ctx context.Context, item Item) error
	Update(ctx context.Context, item Item, index int) error
	Delete(ctx context.Context, item Item, index int) error
}

// Targeting selects how update and delete address a remote row.
type Targeting string

const (
	TargetByID  Targeting = "id"
	TargetByRow Targeting = "row"
)

// RowNumber maps a local index to the remote 1-indexed row below the header.
func RowNumber(index int) int {
	return index + 2
}

var (
	// ErrInvalidItem is returned when an item is missing required fields.
	ErrInvalidItem = errors.New("invalid grocery item")

	// ErrNotFound is returned when no item has the requested ID.
	ErrNotFound = errors.New("grocery item not found")

	// ErrRejected marks an application-level failure reported by the remote
	// store inside an otherwise successful response (e.g. a duplicate on add).
	ErrRejected = errors.New("rejected by remote store")

	// ErrHTTPStatus marks a non-success HTTP status from the remote store.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
)

// FetchError is returned when the full list cannot be read from the remote store.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch groceries: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch groceries: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SyncError is returned when a mutation cannot be confirmed by the remote store.
type SyncError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("sync %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("sync %s: %s", e.Op, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("sync %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
	}
}

func (e *SyncError) Unwrap() error { return e.Err }

// Rejected reports whether the remote store refused the mutation at the
// application level, as opposed to a transport or HTTP failure.
func (e *SyncError) Rejected() bool {
	return errors.Is(e.Err, ErrRejected)
}
