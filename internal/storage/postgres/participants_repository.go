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

var _ events.ParticipantRepository = (*ParticipantRepository)(nil)

type ParticipantRepository struct {
	db queryer
}

const participantColumns = `id, event_id, user_id::text, approved, version, created_at, updated_at`

func scanParticipant(row pgx.Row) (*events.Participant, error) {
	var (
		p         events.Participant
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&p.ID, &p.EventID, &p.UserID, &p.Approved, &p.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	}
	return &p, nil
}

func (r *ParticipantRepository) Get(ctx context.Context, id int64) (*events.Participant, error) {
	p, err := scanParticipant(r.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM event_participants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepository) Create(ctx context.Context, params events.ParticipantCreateParams) (p *events.Participant, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("insert_participant", start, err) }()

	p, err = scanParticipant(r.db.QueryRow(ctx, `
INSERT INTO event_participants (event_id, user_id, approved, version)
VALUES ($1, $2::uuid, $3, $4)
RETURNING `+participantColumns,
		params.EventID, params.UserID, params.Approved, events.InitialVersion))
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, events.ErrAlreadyExists
		case isForeignKeyViolation(err):
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepository) UpdateIfVersion(ctx context.Context, id int64, expected int64, patch events.ParticipantPatch) (p *events.Participant, err error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("update_participant", start, err) }()

	p, err = scanParticipant(r.db.QueryRow(ctx, `
UPDATE event_participants
   SET approved = COALESCE($3::boolean, approved),
       version = version + 1,
       updated_at = now()
 WHERE id = $1 AND version = $2
RETURNING `+participantColumns,
		id, expected, patch.Approved))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrVersionConflict
		}
		return nil, fmt.Errorf("update participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM event_participants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (r *ParticipantRepository) ListByEvent(ctx context.Context, eventID int64) ([]events.Participant, error) {
	rows, err := r.db.Query(ctx, `SELECT `+participantColumns+` FROM event_participants WHERE event_id = $1 ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]events.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participants: %w", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

func (r *ParticipantRepository) GetByEventUser(ctx context.Context, eventID int64, userID string) (*events.Participant, error) {
	p, err := scanParticipant(r.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM event_participants WHERE event_id = $1 AND user_id = $2::uuid`, eventID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepository) ApproveUser(ctx context.Context, eventID int64, userID string) (*events.Participant, error) {
	p, err := scanParticipant(r.db.QueryRow(ctx, `
UPDATE event_participants
   SET approved = true, updated_at = now()
 WHERE event_id = $1 AND user_id = $2::uuid
RETURNING `+participantColumns, eventID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("approve participant: %w", err)
	}
	return p, nil
}

func (r *ParticipantRepository) SetApproved(ctx context.Context, id int64, approved bool) (*events.Participant, error) {
	p, err := scanParticipant(r.db.QueryRow(ctx, `
UPDATE event_participants
   SET approved = $2, updated_at = now()
 WHERE id = $1
RETURNING `+participantColumns, id, approved))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("set participant approval: %w", err)
	}
	return p, nil
}
