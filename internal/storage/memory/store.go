// Package memory is an in-process implementation of the entity stores. One
// Store is shared by every worker of a process so version checks stay
// consistent across them; a single mutex makes each compare-and-update atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/google/uuid"
)

type participantKey struct {
	eventID int64
	userID  string
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextEventID       int64
	nextParticipantID int64
	nextCategoryID    int64

	events       map[int64]events.Event
	participants map[int64]events.Participant
	byMembership map[participantKey]int64
	categories   map[int64]events.Category
	links        map[int64]map[int64]struct{}
	users        map[string]users.User
	usersByEmail map[string]string
}

var (
	_ events.Repository = (*Store)(nil)
	_ users.Repository  = (*UserRepository)(nil)
)

func New() *Store {
	return &Store{
		now:          time.Now,
		events:       make(map[int64]events.Event),
		participants: make(map[int64]events.Participant),
		byMembership: make(map[participantKey]int64),
		categories:   make(map[int64]events.Category),
		links:        make(map[int64]map[int64]struct{}),
		users:        make(map[string]users.User),
		usersByEmail: make(map[string]string),
	}
}

func (s *Store) Events() events.EventRepository             { return &EventRepository{s: s} }
func (s *Store) Participants() events.ParticipantRepository { return &ParticipantRepository{s: s} }
func (s *Store) Categories() events.CategoryRepository      { return &CategoryRepository{s: s} }
func (s *Store) Users() users.Repository                    { return &UserRepository{s: s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op; the store lives as long as the process.
func (s *Store) Close() {}

type EventRepository struct{ s *Store }

func (r *EventRepository) Get(_ context.Context, id int64) (*events.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.eventLocked(id)
}

func (r *EventRepository) Create(_ context.Context, params events.EventCreateParams) (*events.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[params.OrganizerID]; !ok {
		return nil, events.ErrNotFound
	}

	r.s.nextEventID++
	now := r.s.now().UTC()
	event := events.Event{
		ID:               r.s.nextEventID,
		OrganizerID:      params.OrganizerID,
		Title:            params.Title,
		Description:      params.Description,
		Date:             params.Date,
		Location:         params.Location,
		IsVirtual:        params.IsVirtual,
		MaxAttendees:     params.MaxAttendees,
		RequiresApproval: params.RequiresApproval,
		Version:          events.InitialVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.s.events[event.ID] = event
	return r.s.eventLocked(event.ID)
}

func (r *EventRepository) UpdateIfVersion(_ context.Context, id int64, expected int64, patch events.EventPatch) (*events.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	event, ok := r.s.events[id]
	if !ok || event.Version != expected {
		return nil, events.ErrVersionConflict
	}
	patch.Apply(&event)
	event.Version++
	event.UpdatedAt = r.s.now().UTC()
	r.s.events[id] = event
	return r.s.eventLocked(id)
}

func (r *EventRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.events[id]; !ok {
		return events.ErrNotFound
	}
	delete(r.s.events, id)
	delete(r.s.links, id)
	for pid, p := range r.s.participants {
		if p.EventID == id {
			delete(r.s.participants, pid)
			delete(r.s.byMembership, participantKey{eventID: p.EventID, userID: p.UserID})
		}
	}
	return nil
}

func (r *EventRepository) List(_ context.Context, filters events.Filters) ([]events.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]int64, 0, len(r.s.events))
	for id, event := range r.s.events {
		if filters.OrganizerID != "" && event.OrganizerID != filters.OrganizerID {
			continue
		}
		if filters.CategoryID != 0 {
			if _, ok := r.s.links[id][filters.CategoryID]; !ok {
				continue
			}
		}
		if filters.ParticipantID != "" {
			if _, ok := r.s.byMembership[participantKey{eventID: id, userID: filters.ParticipantID}]; !ok {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if filters.Offset > 0 {
		if filters.Offset >= len(ids) {
			ids = ids[:0]
		} else {
			ids = ids[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(ids) > filters.Limit {
		ids = ids[:filters.Limit]
	}

	items := make([]events.Event, 0, len(ids))
	for _, id := range ids {
		event, _ := r.s.eventLocked(id)
		items = append(items, *event)
	}
	return items, nil
}

func (r *EventRepository) AddCategory(_ context.Context, eventID int64, categoryID int64) (*events.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.events[eventID]; !ok {
		return nil, events.ErrNotFound
	}
	if _, ok := r.s.categories[categoryID]; !ok {
		return nil, events.ErrNotFound
	}
	if r.s.links[eventID] == nil {
		r.s.links[eventID] = make(map[int64]struct{})
	}
	r.s.links[eventID][categoryID] = struct{}{}
	return r.s.eventLocked(eventID)
}

func (s *Store) eventLocked(id int64) (*events.Event, error) {
	event, ok := s.events[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	event.CategoryIDs = make([]int64, 0, len(s.links[id]))
	for categoryID := range s.links[id] {
		event.CategoryIDs = append(event.CategoryIDs, categoryID)
	}
	sort.Slice(event.CategoryIDs, func(i, j int) bool { return event.CategoryIDs[i] < event.CategoryIDs[j] })
	return &event, nil
}

type ParticipantRepository struct{ s *Store }

func (r *ParticipantRepository) Get(_ context.Context, id int64) (*events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.participants[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return &p, nil
}

func (r *ParticipantRepository) Create(_ context.Context, params events.ParticipantCreateParams) (*events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.events[params.EventID]; !ok {
		return nil, events.ErrNotFound
	}
	if _, ok := r.s.users[params.UserID]; !ok {
		return nil, events.ErrNotFound
	}
	key := participantKey{eventID: params.EventID, userID: params.UserID}
	if _, exists := r.s.byMembership[key]; exists {
		return nil, events.ErrAlreadyExists
	}

	r.s.nextParticipantID++
	now := r.s.now().UTC()
	p := events.Participant{
		ID:        r.s.nextParticipantID,
		EventID:   params.EventID,
		UserID:    params.UserID,
		Approved:  params.Approved,
		Version:   events.InitialVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.participants[p.ID] = p
	r.s.byMembership[key] = p.ID
	return &p, nil
}

func (r *ParticipantRepository) UpdateIfVersion(_ context.Context, id int64, expected int64, patch events.ParticipantPatch) (*events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.participants[id]
	if !ok || p.Version != expected {
		return nil, events.ErrVersionConflict
	}
	patch.Apply(&p)
	p.Version++
	p.UpdatedAt = r.s.now().UTC()
	r.s.participants[id] = p
	return &p, nil
}

func (r *ParticipantRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.participants[id]
	if !ok {
		return events.ErrNotFound
	}
	delete(r.s.participants, id)
	delete(r.s.byMembership, participantKey{eventID: p.EventID, userID: p.UserID})
	return nil
}

func (r *ParticipantRepository) ListByEvent(_ context.Context, eventID int64) ([]events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	items := make([]events.Participant, 0)
	for _, p := range r.s.participants {
		if p.EventID == eventID {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *ParticipantRepository) GetByEventUser(_ context.Context, eventID int64, userID string) (*events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.byMembership[participantKey{eventID: eventID, userID: userID}]
	if !ok {
		return nil, events.ErrNotFound
	}
	p := r.s.participants[id]
	return &p, nil
}

func (r *ParticipantRepository) ApproveUser(_ context.Context, eventID int64, userID string) (*events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.byMembership[participantKey{eventID: eventID, userID: userID}]
	if !ok {
		return nil, events.ErrNotFound
	}
	return r.s.setApprovedLocked(id, true)
}

func (r *ParticipantRepository) SetApproved(_ context.Context, id int64, approved bool) (*events.Participant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.setApprovedLocked(id, approved)
}

func (s *Store) setApprovedLocked(id int64, approved bool) (*events.Participant, error) {
	p, ok := s.participants[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	p.Approved = approved
	p.UpdatedAt = s.now().UTC()
	s.participants[id] = p
	return &p, nil
}

type CategoryRepository struct{ s *Store }

func (r *CategoryRepository) Get(_ context.Context, id int64) (*events.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.categories[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return &c, nil
}

func (r *CategoryRepository) Create(_ context.Context, name string) (*events.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.categories {
		if strings.EqualFold(c.Name, name) {
			return nil, events.ErrAlreadyExists
		}
	}

	r.s.nextCategoryID++
	now := r.s.now().UTC()
	c := events.Category{
		ID:        r.s.nextCategoryID,
		Name:      name,
		Version:   events.InitialVersion,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.categories[c.ID] = c
	return &c, nil
}

func (r *CategoryRepository) UpdateIfVersion(_ context.Context, id int64, expected int64, patch events.CategoryPatch) (*events.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.categories[id]
	if !ok || c.Version != expected {
		return nil, events.ErrVersionConflict
	}
	if patch.Name != nil {
		for otherID, other := range r.s.categories {
			if otherID != id && strings.EqualFold(other.Name, *patch.Name) {
				return nil, events.ErrAlreadyExists
			}
		}
	}
	patch.Apply(&c)
	c.Version++
	c.UpdatedAt = r.s.now().UTC()
	r.s.categories[id] = c
	return &c, nil
}

func (r *CategoryRepository) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.categories[id]; !ok {
		return events.ErrNotFound
	}
	delete(r.s.categories, id)
	for _, set := range r.s.links {
		delete(set, id)
	}
	return nil
}

func (r *CategoryRepository) List(_ context.Context) ([]events.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	items := make([]events.Category, 0, len(r.s.categories))
	for _, c := range r.s.categories {
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

type UserRepository struct{ s *Store }

func (r *UserRepository) Create(_ context.Context, params users.CreateParams) (*users.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.usersByEmail[params.Email]; taken {
		return nil, users.ErrEmailTaken
	}
	user := users.User{
		ID:           uuid.NewString(),
		Name:         params.Name,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		CreatedAt:    r.s.now().UTC(),
	}
	r.s.users[user.ID] = user
	r.s.usersByEmail[user.Email] = user.ID
	return &user, nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*users.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*users.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.usersByEmail[email]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	user := r.s.users[id]
	return &user, nil
}
