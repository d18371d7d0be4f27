package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/eventboard/server/internal/domain/events"

// Apply performs an optimistic-concurrency edit of one entity.
//
// The stored entity is read first so a missing row surfaces as ErrNotFound and
// a stale expected version is rejected without issuing a write. The write
// itself is the store's conditional update, so two callers racing from the
// same version cannot both succeed. Apply never retries.
func Apply[T Versioned, P any](ctx context.Context, store ConditionalStore[T, P], kind Kind, id int64, expected int64, patch P) (T, error) {
	var zero T

	ctx, span := otel.Tracer(tracerName).Start(ctx, "guard.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.kind", string(kind)),
		attribute.String("entity.id", strconv.FormatInt(id, 10)),
		attribute.Int64("entity.expected_version", expected),
	)

	current, err := store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, notFound(kind, id)
		}
		span.SetStatus(codes.Error, "read failed")
		return zero, fmt.Errorf("read %s %d: %w", kind, id, err)
	}

	if stored := current.CurrentVersion(); stored != expected {
		span.SetAttributes(attribute.Bool("entity.conflict", true))
		return zero, ConflictError{Kind: kind, ID: id, Expected: expected, Actual: stored}
	}

	updated, err := store.UpdateIfVersion(ctx, id, expected, patch)
	if err == nil {
		span.SetAttributes(attribute.Int64("entity.version", updated.CurrentVersion()))
		return updated, nil
	}
	if !errors.Is(err, ErrVersionConflict) {
		span.SetStatus(codes.Error, "update failed")
		return zero, fmt.Errorf("update %s %d: %w", kind, id, err)
	}

	// Lost the race between read and write: another editor bumped the
	// version, or the row was deleted.
	span.SetAttributes(attribute.Bool("entity.conflict", true))
	latest, readErr := store.Get(ctx, id)
	if readErr != nil {
		if errors.Is(readErr, ErrNotFound) {
			return zero, notFound(kind, id)
		}
		return zero, fmt.Errorf("reread %s %d: %w", kind, id, readErr)
	}
	return zero, ConflictError{Kind: kind, ID: id, Expected: expected, Actual: latest.CurrentVersion()}
}
