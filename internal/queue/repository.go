package queue

import (
	"context"
)

// Repository is the offline queue storage contract.
//
// The queue guarantees exactly-once visibility per record to a single
// concurrent uploader: the upload path is serialized through one worker, so
// GetUnsent never races with an in-flight batch for the same records.
// Producers only append; consumers only flip Sent or bump RetryCount.
type Repository interface {
	// Append stores a new pending record.
	Append(ctx context.Context, rec *Record) error

	// GetUnsent returns up to limit unsent records in enqueue order.
	GetUnsent(ctx context.Context, limit int) ([]*Record, error)

	// MarkSent flips the sent flag for the given event ids. Used both for
	// confirmed deliveries and for abandoning records past the retry
	// ceiling.
	MarkSent(ctx context.Context, eventIDs []string) error

	// IncrementRetry bumps the retry counter for the given event ids after
	// a transient upload failure.
	IncrementRetry(ctx context.Context, eventIDs []string) error

	// Cleanup removes sent records and returns how many were deleted.
	Cleanup(ctx context.Context) (int, error)

	// Stats reports the current queue depth.
	Stats(ctx context.Context) (Stats, error)
}
