package events

import "time"

// Kind names a versioned entity type. It is used in logs, metrics and
// error messages.
type Kind string

const (
	KindEvent       Kind = "event"
	KindParticipant Kind = "participant"
	KindCategory    Kind = "category"
)

// InitialVersion is the version assigned to every versioned entity on create.
const InitialVersion int64 = 1

// Versioned is implemented by every entity protected by the version guard.
type Versioned interface {
	CurrentVersion() int64
}

type Event struct {
	ID               int64     `json:"id"`
	OrganizerID      string    `json:"organizerId"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Date             time.Time `json:"date"`
	Location         string    `json:"location"`
	IsVirtual        bool      `json:"isVirtual"`
	MaxAttendees     int       `json:"maxAttendees"`
	RequiresApproval bool      `json:"requiresApproval"`
	Version          int64     `json:"version"`
	CategoryIDs      []int64   `json:"categoryIds"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (e *Event) CurrentVersion() int64 { return e.Version }

type Participant struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"eventId"`
	UserID    string    `json:"userId"`
	Approved  bool      `json:"approved"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *Participant) CurrentVersion() int64 { return p.Version }

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Category) CurrentVersion() int64 { return c.Version }

type EventCreateParams struct {
	OrganizerID      string
	Title            string
	Description      string
	Date             time.Time
	Location         string
	IsVirtual        bool
	MaxAttendees     int
	RequiresApproval bool
}

// EventPatch holds the mutable event fields an edit touches. Nil fields are
// left unchanged; an all-nil patch is still a valid edit.
type EventPatch struct {
	Title            *string
	Description      *string
	Date             *time.Time
	Location         *string
	IsVirtual        *bool
	MaxAttendees     *int
	RequiresApproval *bool
}

// Apply copies the set fields of the patch onto event.
func (p EventPatch) Apply(event *Event) {
	if p.Title != nil {
		event.Title = *p.Title
	}
	if p.Description != nil {
		event.Description = *p.Description
	}
	if p.Date != nil {
		event.Date = *p.Date
	}
	if p.Location != nil {
		event.Location = *p.Location
	}
	if p.IsVirtual != nil {
		event.IsVirtual = *p.IsVirtual
	}
	if p.MaxAttendees != nil {
		event.MaxAttendees = *p.MaxAttendees
	}
	if p.RequiresApproval != nil {
		event.RequiresApproval = *p.RequiresApproval
	}
}

type ParticipantCreateParams struct {
	EventID  int64
	UserID   string
	Approved bool
}

type ParticipantPatch struct {
	Approved *bool
}

func (p ParticipantPatch) Apply(participant *Participant) {
	if p.Approved != nil {
		participant.Approved = *p.Approved
	}
}

type CategoryPatch struct {
	Name *string
}

func (p CategoryPatch) Apply(category *Category) {
	if p.Name != nil {
		category.Name = *p.Name
	}
}

// DefaultListLimit caps event listings that do not ask for a page size.
const DefaultListLimit = 10

// Filters narrows an event listing. Zero values match everything.
// ParticipantID keeps events the user has joined; Offset and Limit page the
// id ordered result.
type Filters struct {
	OrganizerID   string
	ParticipantID string
	CategoryID    int64
	Offset        int
	Limit         int
}
