// ABOUTME: Repository for mirrored calendar events
// ABOUTME: Idempotent upsert keyed on (user_id, provider_event_id) plus range queries
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/calmirror/models"
)

// EventsRepository persists MirroredEvent rows.
type EventsRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventsRepository creates a new events repository.
func NewEventsRepository(db *sql.DB) *EventsRepository {
	return &EventsRepository{db: db, now: time.Now}
}

const eventColumns = `id, user_id, provider_event_id, calendar_id, calendar_name, title, description,
	start_time, end_time, is_all_day, html_link, color_id, event_data, is_active, created_at, updated_at`

// Upsert stores ev, matching on (UserID, ProviderEventID). It reports
// whether a new row was created. Contention surfaces as ErrLocked.
func (r *EventsRepository) Upsert(ctx context.Context, ev *models.MirroredEvent) (bool, error) {
	if ev == nil || ev.UserID == "" || ev.ProviderEventID == "" {
		return false, ErrInvalidEvent
	}

	now := r.now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at FROM mirrored_events WHERE user_id = ? AND provider_event_id = ?
	`, ev.UserID, ev.ProviderEventID).Scan(&existingID, &createdAt)

	created := false
	switch {
	case err == sql.ErrNoRows:
		created = true
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		createdAt = now
	case err != nil:
		return false, fmt.Errorf("failed to look up event: %w", classify(err))
	default:
		ev.ID, err = uuid.Parse(existingID)
		if err != nil {
			return false, fmt.Errorf("invalid event id %q: %w", existingID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mirrored_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(user_id, provider_event_id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			calendar_name = excluded.calendar_name,
			title = excluded.title,
			description = excluded.description,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			is_all_day = excluded.is_all_day,
			html_link = excluded.html_link,
			color_id = excluded.color_id,
			event_data = excluded.event_data,
			is_active = 1,
			updated_at = excluded.updated_at
	`, ev.ID.String(), ev.UserID, ev.ProviderEventID, ev.CalendarID, ev.CalendarName, ev.Title,
		nullString(ev.Description), ev.Start.UTC(), ev.End.UTC(), boolInt(ev.AllDay),
		nullString(ev.HTMLLink), nullString(ev.ColorID), nullString(string(ev.Payload)), createdAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to upsert event: %w", classify(err))
	}

	if err := tx.Commit(); err != nil {
		return false, classify(err)
	}

	ev.Active = true
	ev.CreatedAt = createdAt
	ev.UpdatedAt = now
	return created, nil
}

// Get retrieves one mirrored event by provider id.
func (r *EventsRepository) Get(ctx context.Context, userID, providerEventID string) (*models.MirroredEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM mirrored_events WHERE user_id = ? AND provider_event_id = ?
	`, userID, providerEventID)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", classify(err))
	}
	return ev, nil
}

// ListRange returns active events starting within [start, end], ordered by start.
func (r *EventsRepository) ListRange(ctx context.Context, userID string, start, end time.Time) ([]models.MirroredEvent, error) {
	return r.list(ctx, `
		SELECT `+eventColumns+` FROM mirrored_events
		WHERE user_id = ? AND is_active = 1 AND start_time >= ? AND start_time <= ?
		ORDER BY start_time
	`, userID, start.UTC(), end.UTC())
}

// ListAll returns every active event for a user, ordered by start.
func (r *EventsRepository) ListAll(ctx context.Context, userID string) ([]models.MirroredEvent, error) {
	return r.list(ctx, `
		SELECT `+eventColumns+` FROM mirrored_events
		WHERE user_id = ? AND is_active = 1
		ORDER BY start_time
	`, userID)
}

// Count returns the number of cached rows for a user.
func (r *EventsRepository) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mirrored_events WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", classify(err))
	}
	return count, nil
}

func (r *EventsRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.MirroredEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	var events []models.MirroredEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.MirroredEvent, error) {
	var ev models.MirroredEvent
	var id string
	var description, htmlLink, colorID, payload sql.NullString
	var allDay, active int

	err := row.Scan(
		&id,
		&ev.UserID,
		&ev.ProviderEventID,
		&ev.CalendarID,
		&ev.CalendarName,
		&ev.Title,
		&description,
		&ev.Start,
		&ev.End,
		&allDay,
		&htmlLink,
		&colorID,
		&payload,
		&active,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid event id %q: %w", id, err)
	}
	ev.Description = description.String
	ev.HTMLLink = htmlLink.String
	ev.ColorID = colorID.String
	if payload.Valid && payload.String != "" {
		ev.Payload = []byte(payload.String)
	}
	ev.AllDay = allDay != 0
	ev.Active = active != 0

	return &ev, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
