package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
)

type CreateEventInput struct {
	Title            string     `json:"title" validate:"required,max=200"`
	Description      string     `json:"description" validate:"max=10000"`
	// Date defaults to the creation time when omitted.
	Date             *time.Time `json:"date"`
	Location         string     `json:"location" validate:"max=500"`
	IsVirtual        bool       `json:"isVirtual"`
	MaxAttendees     int        `json:"maxAttendees" validate:"gte=0"`
	RequiresApproval bool       `json:"requiresApproval"`
}

type EditEventInput struct {
	ID               int64      `json:"id" validate:"required"`
	Version          *int64     `json:"version" validate:"required"`
	Title            *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Description      *string    `json:"description" validate:"omitempty,max=10000"`
	Date             *time.Time `json:"date"`
	Location         *string    `json:"location" validate:"omitempty,max=500"`
	IsVirtual        *bool      `json:"isVirtual"`
	MaxAttendees     *int       `json:"maxAttendees" validate:"omitempty,gte=0"`
	RequiresApproval *bool      `json:"requiresApproval"`
}

type IDInput struct {
	ID int64 `json:"id" validate:"required"`
}

// PageInput pages a listing. Limit is kept as an alias of take.
type PageInput struct {
	Skip  int `json:"skip" validate:"gte=0"`
	Take  int `json:"take" validate:"gte=0,lte=200"`
	Limit int `json:"limit" validate:"gte=0,lte=200"`
}

func (p PageInput) apply(filters events.Filters) events.Filters {
	filters.Offset = p.Skip
	filters.Limit = p.Take
	if filters.Limit == 0 {
		filters.Limit = p.Limit
	}
	return filters
}

type EventsInput struct {
	PageInput
	OrganizerID string `json:"organizerId" validate:"omitempty,uuid"`
	CategoryID  int64  `json:"categoryId"`
}

type UserEventsInput struct {
	PageInput
	UserID string `json:"userId" validate:"required,uuid"`
}

type EventIDInput struct {
	EventID int64 `json:"eventId" validate:"required"`
}

type EventUserInput struct {
	EventID int64  `json:"eventId" validate:"required"`
	UserID  string `json:"userId" validate:"required,uuid"`
}

type EditParticipantInput struct {
	ID       int64  `json:"id" validate:"required"`
	Version  *int64 `json:"version" validate:"required"`
	Approved *bool  `json:"approved"`
}

type ToggleApprovalInput struct {
	ID       int64 `json:"id" validate:"required"`
	Approved *bool `json:"approved" validate:"required"`
}

type CreateCategoryInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type EditCategoryInput struct {
	ID      int64  `json:"id" validate:"required"`
	Version *int64 `json:"version" validate:"required"`
	Name    string `json:"name" validate:"required,max=100"`
}

type AddCategoryInput struct {
	EventID    int64 `json:"eventId" validate:"required"`
	CategoryID int64 `json:"categoryId" validate:"required"`
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type NoInput struct{}

// AuthPayload is returned by register and login. The endpoint also sets the
// token as the session cookie.
type AuthPayload struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      *users.User `json:"user"`
}

// ParticipantWithUser is a participant with its user record attached.
type ParticipantWithUser struct {
	events.Participant
	User *users.User `json:"user"`
}

type DeletePayload struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

type LogoutPayload struct {
	Success bool `json:"success"`
}

func (r *Router) registerEventOperations() {
	register(r, "createEvent", true, true, func(ctx context.Context, in CreateEventInput) (any, error) {
		identity, err := identityFrom(ctx)
		if err != nil {
			return nil, err
		}
		date := time.Now().UTC()
		if in.Date != nil {
			date = in.Date.UTC()
		}
		return r.events.CreateEvent(ctx, events.EventCreateParams{
			OrganizerID:      identity.UserID,
			Title:            in.Title,
			Description:      in.Description,
			Date:             date,
			Location:         in.Location,
			IsVirtual:        in.IsVirtual,
			MaxAttendees:     in.MaxAttendees,
			RequiresApproval: in.RequiresApproval,
		})
	})

	register(r, "editEvent", false, true, func(ctx context.Context, in EditEventInput) (any, error) {
		patch := events.EventPatch{
			Title:            in.Title,
			Description:      in.Description,
			Location:         in.Location,
			IsVirtual:        in.IsVirtual,
			MaxAttendees:     in.MaxAttendees,
			RequiresApproval: in.RequiresApproval,
		}
		if in.Date != nil {
			date := in.Date.UTC()
			patch.Date = &date
		}
		return r.events.EditEvent(ctx, in.ID, *in.Version, patch)
	})

	register(r, "deleteEvent", false, true, func(ctx context.Context, in IDInput) (any, error) {
		if err := r.events.DeleteEvent(ctx, in.ID); err != nil {
			return nil, err
		}
		return DeletePayload{ID: in.ID, Deleted: true}, nil
	})

	register(r, "addCategoryToEvent", false, true, func(ctx context.Context, in AddCategoryInput) (any, error) {
		return r.events.AddCategoryToEvent(ctx, in.EventID, in.CategoryID)
	})

	register(r, "event", false, false, func(ctx context.Context, in IDInput) (any, error) {
		event, err := r.events.GetEvent(ctx, in.ID)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", in.ID, err)
		}
		return event, nil
	})

	register(r, "events", false, false, func(ctx context.Context, in EventsInput) (any, error) {
		return r.events.ListEvents(ctx, in.apply(events.Filters{
			OrganizerID: in.OrganizerID,
			CategoryID:  in.CategoryID,
		}))
	})

	register(r, "userEvents", false, false, func(ctx context.Context, in UserEventsInput) (any, error) {
		return r.events.ListEvents(ctx, in.apply(events.Filters{ParticipantID: in.UserID}))
	})

	register(r, "userOrganizedEvents", false, false, func(ctx context.Context, in UserEventsInput) (any, error) {
		return r.events.ListEvents(ctx, in.apply(events.Filters{OrganizerID: in.UserID}))
	})
}

func (r *Router) registerParticipantOperations() {
	register(r, "joinEvent", true, true, func(ctx context.Context, in EventIDInput) (any, error) {
		identity, err := identityFrom(ctx)
		if err != nil {
			return nil, err
		}
		return r.events.JoinEvent(ctx, in.EventID, identity.UserID)
	})

	register(r, "createParticipant", false, true, func(ctx context.Context, in EventUserInput) (any, error) {
		return r.events.CreateParticipant(ctx, in.EventID, in.UserID)
	})

	register(r, "editParticipant", false, true, func(ctx context.Context, in EditParticipantInput) (any, error) {
		return r.events.EditParticipant(ctx, in.ID, *in.Version, events.ParticipantPatch{Approved: in.Approved})
	})

	register(r, "deleteParticipant", false, true, func(ctx context.Context, in IDInput) (any, error) {
		if err := r.events.DeleteParticipant(ctx, in.ID); err != nil {
			return nil, err
		}
		return DeletePayload{ID: in.ID, Deleted: true}, nil
	})

	register(r, "approveUser", false, true, func(ctx context.Context, in EventUserInput) (any, error) {
		return r.events.ApproveUser(ctx, in.EventID, in.UserID)
	})

	register(r, "toggleParticipantApproval", false, true, func(ctx context.Context, in ToggleApprovalInput) (any, error) {
		return r.events.ToggleParticipantApproval(ctx, in.ID, *in.Approved)
	})

	register(r, "participants", false, false, func(ctx context.Context, in EventIDInput) (any, error) {
		return r.events.ListParticipants(ctx, in.EventID)
	})

	register(r, "eventParticipants", false, false, func(ctx context.Context, in EventIDInput) (any, error) {
		participants, err := r.events.ListParticipants(ctx, in.EventID)
		if err != nil {
			return nil, err
		}
		items := make([]ParticipantWithUser, 0, len(participants))
		for _, participant := range participants {
			user, err := r.users.GetByID(ctx, participant.UserID)
			if err != nil {
				return nil, fmt.Errorf("participant %d: %w", participant.ID, err)
			}
			items = append(items, ParticipantWithUser{Participant: participant, User: user})
		}
		return items, nil
	})

	// checkApprovalStatus answers null when the caller has not joined.
	register(r, "checkApprovalStatus", true, false, func(ctx context.Context, in EventIDInput) (any, error) {
		identity, err := identityFrom(ctx)
		if err != nil {
			return nil, err
		}
		participant, err := r.events.Participation(ctx, in.EventID, identity.UserID)
		if err != nil || participant == nil {
			return nil, err
		}
		return participant, nil
	})
}

func (r *Router) registerCategoryOperations() {
	register(r, "createCategory", false, true, func(ctx context.Context, in CreateCategoryInput) (any, error) {
		return r.events.CreateCategory(ctx, in.Name)
	})

	register(r, "editCategory", false, true, func(ctx context.Context, in EditCategoryInput) (any, error) {
		return r.events.EditCategory(ctx, in.ID, *in.Version, in.Name)
	})

	register(r, "deleteCategory", false, true, func(ctx context.Context, in IDInput) (any, error) {
		if err := r.events.DeleteCategory(ctx, in.ID); err != nil {
			return nil, err
		}
		return DeletePayload{ID: in.ID, Deleted: true}, nil
	})

	register(r, "category", false, false, func(ctx context.Context, in IDInput) (any, error) {
		category, err := r.events.GetCategory(ctx, in.ID)
		if err != nil {
			return nil, fmt.Errorf("category %d: %w", in.ID, err)
		}
		return category, nil
	})

	register(r, "categories", false, false, func(ctx context.Context, _ NoInput) (any, error) {
		return r.events.ListCategories(ctx)
	})
}

func (r *Router) registerAccountOperations() {
	register(r, "register", false, true, func(ctx context.Context, in RegisterInput) (any, error) {
		user, err := r.users.Register(ctx, users.RegisterParams{
			Name:     in.Name,
			Email:    in.Email,
			Password: in.Password,
		})
		if err != nil {
			return nil, err
		}
		return r.issue(user)
	})

	register(r, "login", false, true, func(ctx context.Context, in LoginInput) (any, error) {
		user, err := r.users.Authenticate(ctx, in.Email, in.Password)
		if err != nil {
			return nil, err
		}
		return r.issue(user)
	})

	register(r, "logout", true, true, func(ctx context.Context, _ NoInput) (any, error) {
		identity, err := identityFrom(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.sessions.Revoke(ctx, identity); err != nil {
			return nil, fmt.Errorf("revoke session: %w", err)
		}
		return LogoutPayload{Success: true}, nil
	})

	register(r, "me", true, false, func(ctx context.Context, _ NoInput) (any, error) {
		identity, err := identityFrom(ctx)
		if err != nil {
			return nil, err
		}
		return r.users.GetByID(ctx, identity.UserID)
	})
}

func (r *Router) issue(user *users.User) (*AuthPayload, error) {
	token, err := r.tokens.Generate(user.ID, user.Name)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthPayload{
		Token:     token,
		ExpiresAt: time.Now().Add(r.tokens.Expiry()).UTC(),
		User:      user,
	}, nil
}
