package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventboard/server/internal/domain/events"
	"github.com/eventboard/server/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var _ events.EventRepository = (*EventRepository)(nil)

type EventRepository struct {
	db queryer
}

const eventColumns = `e.id, e.organizer_id::text, e.title, e.description, e.date, e.location,
       e.is_virtual, e.max_attendees, e.requires_approval, e.version, e.created_at, e.updated_at,
       ARRAY(SELECT ec.category_id FROM event_categories ec WHERE ec.event_id = e.id ORDER BY ec.category_id)`

func scanEvent(row pgx.Row) (*events.Event, error) {
	var (
		event       events.Event
		date        pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
		categoryIDs []int64
	)
	if err := row.Scan(
		&event.ID,
		&event.OrganizerID,
		&event.Title,
		&event.Description,
		&date,
		&event.Location,
		&event.IsVirtual,
		&event.MaxAttendees,
		&event.RequiresApproval,
		&event.Version,
		&createdAt,
		&updatedAt,
		&categoryIDs,
	); err != nil {
		return nil, err
	}
	if date.Valid {
		event.Date = date.Time
	}
	if createdAt.Valid {
		event.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		event.UpdatedAt = updatedAt.Time
	}
	event.CategoryIDs = categoryIDs
	if event.CategoryIDs == nil {
		event.CategoryIDs = []int64{}
	}
	return &event, nil
}

func (r *EventRepository) Get(ctx context.Context, id int64) (*events.Event, error) {
	event, err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) Create(ctx context.Context, params events.EventCreateParams) (event *events.Event, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("insert_event", start, err) }()

	event, err = scanEvent(r.db.QueryRow(ctx, `
WITH e AS (
  INSERT INTO events (organizer_id, title, description, date, location, is_virtual, max_attendees, requires_approval, version)
  VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
  RETURNING *
)
SELECT `+eventColumns+` FROM e`,
		params.OrganizerID,
		params.Title,
		params.Description,
		params.Date,
		params.Location,
		params.IsVirtual,
		params.MaxAttendees,
		params.RequiresApproval,
		events.InitialVersion,
	))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("organizer %s: %w", params.OrganizerID, events.ErrNotFound)
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// UpdateIfVersion applies the patch only if the row still carries the
// expected version. The category subquery reads committed links, which the
// update does not touch.
func (r *EventRepository) UpdateIfVersion(ctx context.Context, id int64, expected int64, patch events.EventPatch) (event *events.Event, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("update_event", start, err) }()

	event, err = scanEvent(r.db.QueryRow(ctx, `
WITH e AS (
  UPDATE events
     SET title = COALESCE($3::text, title),
         description = COALESCE($4::text, description),
         date = COALESCE($5::timestamptz, date),
         location = COALESCE($6::text, location),
         is_virtual = COALESCE($7::boolean, is_virtual),
         max_attendees = COALESCE($8::integer, max_attendees),
         requires_approval = COALESCE($9::boolean, requires_approval),
         version = version + 1,
         updated_at = now()
   WHERE id = $1 AND version = $2
  RETURNING *
)
SELECT `+eventColumns+` FROM e`,
		id,
		expected,
		patch.Title,
		patch.Description,
		patch.Date,
		patch.Location,
		patch.IsVirtual,
		patch.MaxAttendees,
		patch.RequiresApproval,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrVersionConflict
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (r *EventRepository) List(ctx context.Context, filters events.Filters) ([]events.Event, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = events.DefaultListLimit
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
SELECT `+eventColumns+`
  FROM events e
 WHERE ($1 = '' OR e.organizer_id::text = $1)
   AND ($2::bigint = 0 OR EXISTS (
         SELECT 1 FROM event_categories ec WHERE ec.event_id = e.id AND ec.category_id = $2))
   AND ($3 = '' OR EXISTS (
         SELECT 1 FROM event_participants ep WHERE ep.event_id = e.id AND ep.user_id::text = $3))
 ORDER BY e.id ASC
 LIMIT $4 OFFSET $5`,
		filters.OrganizerID,
		filters.CategoryID,
		filters.ParticipantID,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]events.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		items = append(items, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func (r *EventRepository) AddCategory(ctx context.Context, eventID int64, categoryID int64) (*events.Event, error) {
	_, err := r.db.Exec(ctx, `
INSERT INTO event_categories (event_id, category_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, eventID, categoryID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("link category: %w", err)
	}
	return r.Get(ctx, eventID)
}
