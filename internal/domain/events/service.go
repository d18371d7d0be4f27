package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eventboard/server/internal/sanitize"
	"github.com/rs/zerolog"
)

// Service implements the event, participant and category operations on top
// of a Repository. Every edit goes through Apply.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "events").Logger(),
	}
}

func (s *Service) GetEvent(ctx context.Context, id int64) (*Event, error) {
	return s.repo.Events().Get(ctx, id)
}

func (s *Service) ListEvents(ctx context.Context, filters Filters) ([]Event, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultListLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return s.repo.Events().List(ctx, filters)
}

func (s *Service) CreateEvent(ctx context.Context, params EventCreateParams) (*Event, error) {
	params.Title = cleanText(params.Title)
	params.Description = sanitize.HTML(params.Description)
	params.Location = cleanText(params.Location)
	if err := requireText("title", params.Title); err != nil {
		return nil, err
	}

	event, err := s.repo.Events().Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.logger.Info().Int64("event_id", event.ID).Str("organizer_id", event.OrganizerID).Msg("event created")
	return event, nil
}

func (s *Service) EditEvent(ctx context.Context, id int64, version int64, patch EventPatch) (*Event, error) {
	if patch.Title != nil {
		title := cleanText(*patch.Title)
		if err := requireText("title", title); err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.Description != nil {
		description := sanitize.HTML(*patch.Description)
		patch.Description = &description
	}
	if patch.Location != nil {
		location := cleanText(*patch.Location)
		patch.Location = &location
	}
	return Apply(ctx, s.repo.Events(), KindEvent, id, version, patch)
}

func (s *Service) DeleteEvent(ctx context.Context, id int64) error {
	if err := s.repo.Events().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete event %d: %w", id, err)
	}
	s.logger.Info().Int64("event_id", id).Msg("event deleted")
	return nil
}

func (s *Service) AddCategoryToEvent(ctx context.Context, eventID int64, categoryID int64) (*Event, error) {
	if _, err := s.repo.Categories().Get(ctx, categoryID); err != nil {
		return nil, fmt.Errorf("category %d: %w", categoryID, err)
	}
	event, err := s.repo.Events().AddCategory(ctx, eventID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("add category %d to event %d: %w", categoryID, eventID, err)
	}
	return event, nil
}

// JoinEvent registers userID as a participant of eventID. The participant is
// approved up front unless the event requires approval; the flag is read at
// join time.
func (s *Service) JoinEvent(ctx context.Context, eventID int64, userID string) (*Participant, error) {
	event, err := s.repo.Events().Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}

	participant, err := s.repo.Participants().Create(ctx, ParticipantCreateParams{
		EventID:  event.ID,
		UserID:   userID,
		Approved: !event.RequiresApproval,
	})
	if err != nil {
		return nil, fmt.Errorf("join event %d: %w", eventID, err)
	}

	s.logger.Info().
		Int64("event_id", eventID).
		Str("user_id", userID).
		Bool("approved", participant.Approved).
		Msg("participant joined")
	return participant, nil
}

// CreateParticipant adds userID to eventID on someone else's behalf. It
// follows the same approval derivation as JoinEvent.
func (s *Service) CreateParticipant(ctx context.Context, eventID int64, userID string) (*Participant, error) {
	return s.JoinEvent(ctx, eventID, userID)
}

func (s *Service) GetParticipant(ctx context.Context, id int64) (*Participant, error) {
	return s.repo.Participants().Get(ctx, id)
}

func (s *Service) ListParticipants(ctx context.Context, eventID int64) ([]Participant, error) {
	if _, err := s.repo.Events().Get(ctx, eventID); err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}
	return s.repo.Participants().ListByEvent(ctx, eventID)
}

// Participation returns userID's participant record for eventID, or nil when
// the user has not joined. A missing event wraps ErrNotFound.
func (s *Service) Participation(ctx context.Context, eventID int64, userID string) (*Participant, error) {
	if _, err := s.repo.Events().Get(ctx, eventID); err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}
	participant, err := s.repo.Participants().GetByEventUser(ctx, eventID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("participant %s of event %d: %w", userID, eventID, err)
	}
	return participant, nil
}

func (s *Service) EditParticipant(ctx context.Context, id int64, version int64, patch ParticipantPatch) (*Participant, error) {
	return Apply(ctx, s.repo.Participants(), KindParticipant, id, version, patch)
}

func (s *Service) DeleteParticipant(ctx context.Context, id int64) error {
	if err := s.repo.Participants().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete participant %d: %w", id, err)
	}
	return nil
}

func (s *Service) ApproveUser(ctx context.Context, eventID int64, userID string) (*Participant, error) {
	participant, err := s.repo.Participants().ApproveUser(ctx, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("approve user %s for event %d: %w", userID, eventID, err)
	}
	return participant, nil
}

func (s *Service) ToggleParticipantApproval(ctx context.Context, id int64, approved bool) (*Participant, error) {
	participant, err := s.repo.Participants().SetApproved(ctx, id, approved)
	if err != nil {
		return nil, fmt.Errorf("toggle approval for participant %d: %w", id, err)
	}
	return participant, nil
}

func (s *Service) GetCategory(ctx context.Context, id int64) (*Category, error) {
	return s.repo.Categories().Get(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.Categories().List(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	clean := cleanText(name)
	if err := requireText("name", clean); err != nil {
		return nil, err
	}
	category, err := s.repo.Categories().Create(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return category, nil
}

func (s *Service) EditCategory(ctx context.Context, id int64, version int64, name string) (*Category, error) {
	clean := cleanText(name)
	if err := requireText("name", clean); err != nil {
		return nil, err
	}
	return Apply(ctx, s.repo.Categories(), KindCategory, id, version, CategoryPatch{Name: &clean})
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.repo.Categories().Delete(ctx, id); err != nil {
		return fmt.Errorf("delete category %d: %w", id, err)
	}
	return nil
}

// cleanText strips all markup and the whitespace left around it.
func cleanText(input string) string {
	return strings.TrimSpace(sanitize.Text(input))
}
