package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/domain/users"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/session"
	"github.com/eventboard/server/internal/storage/memory"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	router   *Router
	store    *memory.Store
	sessions *session.Resolver
	tokens   *auth.JWTManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memory.New()
	logger := zerolog.Nop()
	usersService := users.NewService(store.Users(), logger, users.WithBcryptCost(bcrypt.MinCost))
	tokens := auth.NewJWTManager("test-secret", time.Hour, "eventboard")
	sessions := session.NewResolver(tokens, auth.NewRedisRevocationStore(client, "test"), store.Users(), logger)

	return &fixture{
		router:   NewRouter(events.NewService(store, logger), usersService, tokens, sessions, logger),
		store:    store,
		sessions: sessions,
		tokens:   tokens,
	}
}

// signIn registers a user and returns a context carrying the resolved
// identity, the way the session middleware would.
func (f *fixture) signIn(t *testing.T, email string) (context.Context, *AuthPayload) {
	t.Helper()
	result, err := f.router.Dispatch(context.Background(), "register", vars(t, map[string]any{
		"name":     "Ada",
		"email":    email,
		"password": "password123",
	}))
	require.NoError(t, err)
	payload := result.(*AuthPayload)

	identity := f.sessions.Resolve(context.Background(), payload.Token)
	require.NotNil(t, identity)
	return session.WithIdentity(context.Background(), identity), payload
}

func vars(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func (f *fixture) createEvent(t *testing.T, ctx context.Context, requiresApproval bool) *events.Event {
	t.Helper()
	result, err := f.router.Dispatch(ctx, "createEvent", vars(t, map[string]any{
		"title":            "Go night",
		"date":             "2026-06-01T18:00:00Z",
		"maxAttendees":     100,
		"requiresApproval": requiresApproval,
	}))
	require.NoError(t, err)
	return result.(*events.Event)
}

func TestCreateEditStaleScenario(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")

	event := f.createEvent(t, ctx, false)
	require.Equal(t, int64(1), event.Version)
	require.Equal(t, 100, event.MaxAttendees)
	require.False(t, event.RequiresApproval)

	edit := vars(t, map[string]any{"id": event.ID, "version": 1, "title": "X"})
	result, err := f.router.Dispatch(ctx, "editEvent", edit)
	require.NoError(t, err)
	edited := result.(*events.Event)
	require.Equal(t, int64(2), edited.Version)
	require.Equal(t, "X", edited.Title)

	before := testutil.ToFloat64(metrics.VersionConflictsTotal.WithLabelValues("editEvent"))
	_, err = f.router.Dispatch(ctx, "editEvent", edit)
	require.Equal(t, CodeVersionConflict, Code(err))
	require.Equal(t, before+1, testutil.ToFloat64(metrics.VersionConflictsTotal.WithLabelValues("editEvent")))

	ext := Extensions(err)
	require.Equal(t, int64(1), ext["expectedVersion"])
	require.Equal(t, int64(2), ext["currentVersion"])
	require.Equal(t, "event", ext["entity"])

	stored, err := f.store.Events().Get(context.Background(), event.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
}

func TestConcurrentEditsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")
	event := f.createEvent(t, ctx, false)

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.router.Dispatch(ctx, "editEvent", vars(t, map[string]any{
				"id":           event.ID,
				"version":      1,
				"maxAttendees": i,
			}))
			mu.Lock()
			defer mu.Unlock()
			switch Code(err) {
			case CodeOK:
				successes++
			case CodeVersionConflict:
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, conflicts)
	stored, err := f.store.Events().Get(context.Background(), event.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stored.Version)
}

func TestStaleEditChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")
	event := f.createEvent(t, ctx, false)
	_, err := f.router.Dispatch(ctx, "editEvent", vars(t, map[string]any{"id": event.ID, "version": 1, "location": "Hall A"}))
	require.NoError(t, err)
	_, err = f.router.Dispatch(ctx, "editEvent", vars(t, map[string]any{"id": event.ID, "version": 2, "location": "Hall B"}))
	require.NoError(t, err)

	_, err = f.router.Dispatch(ctx, "editEvent", vars(t, map[string]any{
		"id":       event.ID,
		"version":  1,
		"location": "Hall C",
		"title":    "Stale",
	}))
	require.Equal(t, CodeVersionConflict, Code(err))

	stored, err := f.store.Events().Get(context.Background(), event.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.Version)
	require.Equal(t, "Hall B", stored.Location)
	require.Equal(t, "Go night", stored.Title)
}

func TestJoinEventApprovalDerivation(t *testing.T) {
	f := newFixture(t)
	organizer, _ := f.signIn(t, "ada@example.com")
	guest, guestAuth := f.signIn(t, "bob@example.com")

	open := f.createEvent(t, organizer, false)
	gated := f.createEvent(t, organizer, true)

	result, err := f.router.Dispatch(guest, "joinEvent", vars(t, map[string]any{"eventId": open.ID}))
	require.NoError(t, err)
	joined := result.(*events.Participant)
	require.True(t, joined.Approved)
	require.Equal(t, guestAuth.User.ID, joined.UserID)

	result, err = f.router.Dispatch(guest, "joinEvent", vars(t, map[string]any{"eventId": gated.ID}))
	require.NoError(t, err)
	require.False(t, result.(*events.Participant).Approved)

	_, err = f.router.Dispatch(guest, "joinEvent", vars(t, map[string]any{"eventId": gated.ID}))
	require.Equal(t, CodeAlreadyExists, Code(err))

	result, err = f.router.Dispatch(organizer, "approveUser", vars(t, map[string]any{"eventId": gated.ID, "userId": guestAuth.User.ID}))
	require.NoError(t, err)
	approved := result.(*events.Participant)
	require.True(t, approved.Approved)
	require.Equal(t, int64(1), approved.Version)
}

func TestUnauthenticatedCallsTouchNothing(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")
	event := f.createEvent(t, ctx, false)

	anonymous := context.Background()
	_, err := f.router.Dispatch(anonymous, "createEvent", vars(t, map[string]any{
		"title": "Sneaky",
		"date":  "2026-06-01T18:00:00Z",
	}))
	require.ErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, CodeUnauthenticated, Code(err))

	_, err = f.router.Dispatch(anonymous, "joinEvent", vars(t, map[string]any{"eventId": event.ID}))
	require.ErrorIs(t, err, ErrUnauthenticated)

	// Malformed variables still fail as unauthenticated: identity is checked
	// before decoding.
	_, err = f.router.Dispatch(anonymous, "createEvent", json.RawMessage(`{"bogus":`))
	require.ErrorIs(t, err, ErrUnauthenticated)

	list, err := f.store.Events().List(context.Background(), events.Filters{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	participants, err := f.store.Participants().ListByEvent(context.Background(), event.ID)
	require.NoError(t, err)
	require.Empty(t, participants)
}

func TestDispatchInputErrors(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")

	_, err := f.router.Dispatch(ctx, "dropTables", nil)
	require.Equal(t, CodeBadUserInput, Code(err))

	_, err = f.router.Dispatch(ctx, "editEvent", vars(t, map[string]any{"id": 1, "title": "no version"}))
	require.Equal(t, CodeBadUserInput, Code(err))
	var validationErr validator.ValidationErrors
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, map[string]string{"version": "required"}, Extensions(err)["fields"])

	_, err = f.router.Dispatch(ctx, "createCategory", vars(t, map[string]any{"name": "Music", "color": "red"}))
	require.Equal(t, CodeBadUserInput, Code(err))

	_, err = f.router.Dispatch(ctx, "deleteEvent", json.RawMessage(`{"id":"seven"}`))
	require.Equal(t, CodeBadUserInput, Code(err))
}

func TestEditMissingEntityIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")
	event := f.createEvent(t, ctx, false)

	result, err := f.router.Dispatch(ctx, "deleteEvent", vars(t, map[string]any{"id": event.ID}))
	require.NoError(t, err)
	require.Equal(t, DeletePayload{ID: event.ID, Deleted: true}, result)

	_, err = f.router.Dispatch(ctx, "editEvent", vars(t, map[string]any{"id": event.ID, "version": 1}))
	require.Equal(t, CodeNotFound, Code(err))

	_, err = f.router.Dispatch(ctx, "deleteEvent", vars(t, map[string]any{"id": event.ID}))
	require.Equal(t, CodeNotFound, Code(err))
}

func TestCategoryOperations(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")
	event := f.createEvent(t, ctx, false)

	result, err := f.router.Dispatch(ctx, "createCategory", vars(t, map[string]any{"name": "Music"}))
	require.NoError(t, err)
	category := result.(*events.Category)

	_, err = f.router.Dispatch(ctx, "createCategory", vars(t, map[string]any{"name": "music"}))
	require.Equal(t, CodeAlreadyExists, Code(err))

	result, err = f.router.Dispatch(ctx, "editCategory", vars(t, map[string]any{"id": category.ID, "version": 1, "name": "Jazz"}))
	require.NoError(t, err)
	require.Equal(t, int64(2), result.(*events.Category).Version)

	result, err = f.router.Dispatch(ctx, "addCategoryToEvent", vars(t, map[string]any{"eventId": event.ID, "categoryId": category.ID}))
	require.NoError(t, err)
	require.Equal(t, []int64{category.ID}, result.(*events.Event).CategoryIDs)

	result, err = f.router.Dispatch(ctx, "categories", nil)
	require.NoError(t, err)
	require.Len(t, result.([]events.Category), 1)

	_, err = f.router.Dispatch(ctx, "deleteCategory", vars(t, map[string]any{"id": category.ID}))
	require.NoError(t, err)
	_, err = f.router.Dispatch(ctx, "category", vars(t, map[string]any{"id": category.ID}))
	require.Equal(t, CodeNotFound, Code(err))
}

func TestParticipantOperations(t *testing.T) {
	f := newFixture(t)
	ctx, organizer := f.signIn(t, "ada@example.com")
	event := f.createEvent(t, ctx, true)

	result, err := f.router.Dispatch(ctx, "createParticipant", vars(t, map[string]any{"eventId": event.ID, "userId": organizer.User.ID}))
	require.NoError(t, err)
	participant := result.(*events.Participant)
	require.False(t, participant.Approved)

	result, err = f.router.Dispatch(ctx, "toggleParticipantApproval", vars(t, map[string]any{"id": participant.ID, "approved": true}))
	require.NoError(t, err)
	require.True(t, result.(*events.Participant).Approved)
	require.Equal(t, int64(1), result.(*events.Participant).Version)

	result, err = f.router.Dispatch(ctx, "editParticipant", vars(t, map[string]any{"id": participant.ID, "version": 1, "approved": false}))
	require.NoError(t, err)
	require.Equal(t, int64(2), result.(*events.Participant).Version)

	_, err = f.router.Dispatch(ctx, "editParticipant", vars(t, map[string]any{"id": participant.ID, "version": 1, "approved": true}))
	require.Equal(t, CodeVersionConflict, Code(err))

	result, err = f.router.Dispatch(ctx, "participants", vars(t, map[string]any{"eventId": event.ID}))
	require.NoError(t, err)
	require.Len(t, result.([]events.Participant), 1)

	_, err = f.router.Dispatch(ctx, "deleteParticipant", vars(t, map[string]any{"id": participant.ID}))
	require.NoError(t, err)
}

func TestAccountOperations(t *testing.T) {
	f := newFixture(t)
	ctx, registered := f.signIn(t, "ada@example.com")
	require.NotEmpty(t, registered.Token)

	_, err := f.router.Dispatch(context.Background(), "register", vars(t, map[string]any{
		"name": "Ada", "email": "ada@example.com", "password": "password123",
	}))
	require.Equal(t, CodeAlreadyExists, Code(err))

	_, err = f.router.Dispatch(context.Background(), "login", vars(t, map[string]any{"email": "ada@example.com", "password": "nope"}))
	require.Equal(t, CodeUnauthenticated, Code(err))

	result, err := f.router.Dispatch(context.Background(), "login", vars(t, map[string]any{"email": "ada@example.com", "password": "password123"}))
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, result.(*AuthPayload).User.ID)

	result, err = f.router.Dispatch(ctx, "me", nil)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", result.(*users.User).Email)

	_, err = f.router.Dispatch(context.Background(), "me", nil)
	require.Equal(t, CodeUnauthenticated, Code(err))

	result, err = f.router.Dispatch(ctx, "logout", nil)
	require.NoError(t, err)
	require.Equal(t, LogoutPayload{Success: true}, result)
	require.Nil(t, f.sessions.Resolve(context.Background(), registered.Token))
}

func TestIsMutation(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.router.IsMutation("editEvent"))
	require.False(t, f.router.IsMutation("events"))
	require.False(t, f.router.IsMutation("unknown"))
	require.Contains(t, f.router.Operations(), "toggleParticipantApproval")
	require.Len(t, f.router.Operations(), 26)
}

func TestCreateEventDefaultsDate(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")

	before := time.Now().UTC().Add(-time.Second)
	result, err := f.router.Dispatch(ctx, "createEvent", vars(t, map[string]any{"title": "Whenever"}))
	require.NoError(t, err)
	event := result.(*events.Event)
	require.WithinDuration(t, time.Now().UTC(), event.Date, 5*time.Second)
	require.True(t, event.Date.After(before))
}

func TestMarkupOnlyTitleIsBadUserInput(t *testing.T) {
	f := newFixture(t)
	ctx, _ := f.signIn(t, "ada@example.com")

	_, err := f.router.Dispatch(ctx, "createEvent", vars(t, map[string]any{"title": "<b></b>"}))
	require.Equal(t, CodeBadUserInput, Code(err))
	require.Equal(t, map[string]string{"title": "text"}, Extensions(err)["fields"])

	_, err = f.router.Dispatch(ctx, "createCategory", vars(t, map[string]any{"name": "<i> </i>"}))
	require.Equal(t, CodeBadUserInput, Code(err))

	list, err := f.store.Events().List(context.Background(), events.Filters{})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUserEventQueries(t *testing.T) {
	f := newFixture(t)
	organizerCtx, organizer := f.signIn(t, "ada@example.com")
	guestCtx, guest := f.signIn(t, "grace@example.com")

	created := make([]*events.Event, 0, 12)
	for len(created) < 12 {
		created = append(created, f.createEvent(t, organizerCtx, false))
	}
	_, err := f.router.Dispatch(guestCtx, "joinEvent", vars(t, map[string]any{"eventId": created[5].ID}))
	require.NoError(t, err)

	result, err := f.router.Dispatch(context.Background(), "events", nil)
	require.NoError(t, err)
	require.Len(t, result.([]events.Event), 10)

	result, err = f.router.Dispatch(context.Background(), "events", vars(t, map[string]any{"skip": 10, "take": 5}))
	require.NoError(t, err)
	page := result.([]events.Event)
	require.Len(t, page, 2)
	require.Equal(t, created[10].ID, page[0].ID)

	result, err = f.router.Dispatch(context.Background(), "events", vars(t, map[string]any{"limit": 3}))
	require.NoError(t, err)
	require.Len(t, result.([]events.Event), 3)

	_, err = f.router.Dispatch(context.Background(), "events", vars(t, map[string]any{"skip": -1}))
	require.Equal(t, CodeBadUserInput, Code(err))

	result, err = f.router.Dispatch(context.Background(), "userEvents", vars(t, map[string]any{"userId": guest.User.ID}))
	require.NoError(t, err)
	joined := result.([]events.Event)
	require.Len(t, joined, 1)
	require.Equal(t, created[5].ID, joined[0].ID)

	result, err = f.router.Dispatch(context.Background(), "userOrganizedEvents", vars(t, map[string]any{"userId": organizer.User.ID, "take": 20}))
	require.NoError(t, err)
	require.Len(t, result.([]events.Event), 12)

	result, err = f.router.Dispatch(context.Background(), "userOrganizedEvents", vars(t, map[string]any{"userId": guest.User.ID}))
	require.NoError(t, err)
	require.Empty(t, result.([]events.Event))

	_, err = f.router.Dispatch(context.Background(), "userEvents", vars(t, map[string]any{"userId": "not-a-uuid"}))
	require.Equal(t, CodeBadUserInput, Code(err))
}

func TestApprovalStatusAndEventParticipants(t *testing.T) {
	f := newFixture(t)
	organizerCtx, _ := f.signIn(t, "ada@example.com")
	guestCtx, guest := f.signIn(t, "grace@example.com")
	event := f.createEvent(t, organizerCtx, true)

	result, err := f.router.Dispatch(guestCtx, "checkApprovalStatus", vars(t, map[string]any{"eventId": event.ID}))
	require.NoError(t, err)
	require.Nil(t, result)

	_, err = f.router.Dispatch(context.Background(), "checkApprovalStatus", vars(t, map[string]any{"eventId": event.ID}))
	require.Equal(t, CodeUnauthenticated, Code(err))

	_, err = f.router.Dispatch(guestCtx, "checkApprovalStatus", vars(t, map[string]any{"eventId": 404}))
	require.Equal(t, CodeNotFound, Code(err))

	_, err = f.router.Dispatch(guestCtx, "joinEvent", vars(t, map[string]any{"eventId": event.ID}))
	require.NoError(t, err)

	result, err = f.router.Dispatch(guestCtx, "checkApprovalStatus", vars(t, map[string]any{"eventId": event.ID}))
	require.NoError(t, err)
	status := result.(*events.Participant)
	require.False(t, status.Approved)
	require.Equal(t, guest.User.ID, status.UserID)

	_, err = f.router.Dispatch(organizerCtx, "approveUser", vars(t, map[string]any{"eventId": event.ID, "userId": guest.User.ID}))
	require.NoError(t, err)
	result, err = f.router.Dispatch(guestCtx, "checkApprovalStatus", vars(t, map[string]any{"eventId": event.ID}))
	require.NoError(t, err)
	require.True(t, result.(*events.Participant).Approved)

	result, err = f.router.Dispatch(context.Background(), "eventParticipants", vars(t, map[string]any{"eventId": event.ID}))
	require.NoError(t, err)
	withUsers := result.([]ParticipantWithUser)
	require.Len(t, withUsers, 1)
	require.Equal(t, "grace@example.com", withUsers[0].User.Email)
	require.True(t, withUsers[0].Approved)

	raw, err := json.Marshal(withUsers[0])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, guest.User.ID, decoded["userId"])
	require.Contains(t, decoded, "user")

	_, err = f.router.Dispatch(context.Background(), "eventParticipants", vars(t, map[string]any{"eventId": 404}))
	require.Equal(t, CodeNotFound, Code(err))
}
