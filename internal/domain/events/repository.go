package events

import "context"

// ConditionalStore is the storage contract the version guard relies on.
//
// UpdateIfVersion must apply the patch and increment the version by one in a
// single atomic step, keyed on both id and expected version. When no row
// matches it returns an error wrapping ErrVersionConflict without mutating
// anything; the guard decides whether the row is gone or merely newer.
type ConditionalStore[T Versioned, P any] interface {
	Get(ctx context.Context, id int64) (T, error)
	UpdateIfVersion(ctx context.Context, id int64, expected int64, patch P) (T, error)
}

type EventRepository interface {
	ConditionalStore[*Event, EventPatch]
	Create(ctx context.Context, params EventCreateParams) (*Event, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filters Filters) ([]Event, error)
	AddCategory(ctx context.Context, eventID int64, categoryID int64) (*Event, error)
}

type ParticipantRepository interface {
	ConditionalStore[*Participant, ParticipantPatch]
	Create(ctx context.Context, params ParticipantCreateParams) (*Participant, error)
	Delete(ctx context.Context, id int64) error
	ListByEvent(ctx context.Context, eventID int64) ([]Participant, error)
	// GetByEventUser returns the (eventID, userID) participant or ErrNotFound.
	GetByEventUser(ctx context.Context, eventID int64, userID string) (*Participant, error)
	// ApproveUser marks the (eventID, userID) participant approved without
	// touching its version.
	ApproveUser(ctx context.Context, eventID int64, userID string) (*Participant, error)
	// SetApproved overwrites the approved flag without touching the version.
	SetApproved(ctx context.Context, id int64, approved bool) (*Participant, error)
}

type CategoryRepository interface {
	ConditionalStore[*Category, CategoryPatch]
	Create(ctx context.Context, name string) (*Category, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]Category, error)
}

// Repository groups the entity stores. Implementations share one
// persistence handle across all three.
type Repository interface {
	Events() EventRepository
	Participants() ParticipantRepository
	Categories() CategoryRepository
}
