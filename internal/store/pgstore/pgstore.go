// Package pgstore is the PostgreSQL implementation of store.Store.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"academycal/internal/model"
	"academycal/internal/store"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string // "disable" for local, "require"/etc for prod
}

// Open connects to PostgreSQL and pings it before returning.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Store keeps events in the calendar_events table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the table and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	return CreateSchema(ctx, s.db, EventSchema())
}

const selectColumns = `id, title, description, event_type, start_datetime, duration_minutes,
	timezone, meeting_link, meeting_provider, is_recurring,
	rec_frequency, rec_interval, rec_days_of_week, rec_end_type, rec_occurrences, rec_end_date,
	cancelled_dates, parent_event_id, created_by_admin_id, is_active, deleted_at, created_at, updated_at`

const liveClause = `is_active AND deleted_at IS NULL`

func (s *Store) FindByID(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM `+tableName+` WHERE id = $1`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", id, err)
	}
	return ev, nil
}

func (s *Store) FindInRange(ctx context.Context, start, end time.Time, f store.RangeFilter) ([]*model.Event, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + selectColumns + ` FROM ` + tableName +
		` WHERE ` + liveClause + ` AND start_datetime >= $1 AND start_datetime <= $2`)
	if f.RecurringOnly {
		q.WriteString(` AND is_recurring`)
	}
	if f.ExcludeRecurring {
		q.WriteString(` AND NOT is_recurring`)
	}
	q.WriteString(` ORDER BY start_datetime ASC, id ASC`)

	args := []any{start.UTC(), end.UTC()}
	if f.Limit > 0 {
		q.WriteString(` LIMIT $3`)
		args = append(args, f.Limit)
	}
	return s.query(ctx, "find in range", q.String(), args...)
}

func (s *Store) FindRecurringParentsBefore(ctx context.Context, end time.Time) ([]*model.Event, error) {
	return s.query(ctx, "find recurring parents",
		`SELECT `+selectColumns+` FROM `+tableName+
			` WHERE `+liveClause+` AND is_recurring AND start_datetime <= $1
			ORDER BY start_datetime ASC, id ASC`,
		end.UTC())
}

func (s *Store) ListLive(ctx context.Context) ([]*model.Event, error) {
	return s.query(ctx, "list events",
		`SELECT `+selectColumns+` FROM `+tableName+
			` WHERE `+liveClause+` ORDER BY start_datetime DESC, id DESC`)
}

func (s *Store) Save(ctx context.Context, ev *model.Event) error {
	if err := store.CheckSavable(ev); err != nil {
		return err
	}
	now := s.now().UTC()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
		ev.CreatedAt = now
		ev.UpdatedAt = now
		if _, err := s.db.ExecContext(ctx, insertSQL, insertArgs(ev)...); err != nil {
			ev.ID = ""
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	}

	ev.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, updateSQL, updateArgs(ev)...)
	if err != nil {
		return fmt.Errorf("update event %q: %w", ev.ID, err)
	}
	return expectOne(res, "update", ev.ID)
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+tableName+` SET is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return fmt.Errorf("soft delete %q: %w", id, err)
	}
	return expectOne(res, "soft delete", id)
}

func (s *Store) SoftDeleteByParent(ctx context.Context, parentID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+tableName+` SET is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE parent_event_id = $1`,
		parentID, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("soft delete children of %q: %w", parentID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) DeleteByParent(ctx context.Context, parentID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+tableName+` WHERE parent_event_id = $1`, parentID)
	if err != nil {
		return 0, fmt.Errorf("delete children of %q: %w", parentID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	out := make([]*model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func expectOne(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %q: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", op, id, store.ErrNotFound)
	}
	return nil
}

const insertSQL = `INSERT INTO ` + tableName + ` (
	id, title, description, event_type, start_datetime, duration_minutes,
	timezone, meeting_link, meeting_provider, is_recurring,
	rec_frequency, rec_interval, rec_days_of_week, rec_end_type, rec_occurrences, rec_end_date,
	cancelled_dates, parent_event_id, created_by_admin_id, is_active, deleted_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

const updateSQL = `UPDATE ` + tableName + ` SET
	title = $2, description = $3, event_type = $4, start_datetime = $5, duration_minutes = $6,
	timezone = $7, meeting_link = $8, meeting_provider = $9, is_recurring = $10,
	rec_frequency = $11, rec_interval = $12, rec_days_of_week = $13, rec_end_type = $14,
	rec_occurrences = $15, rec_end_date = $16, cancelled_dates = $17, parent_event_id = $18,
	created_by_admin_id = $19, is_active = $20, deleted_at = $21, updated_at = $22
WHERE id = $1`

func insertArgs(ev *model.Event) []any {
	return append(updateArgs(ev)[:21], ev.CreatedAt.UTC(), ev.UpdatedAt.UTC())
}

// updateArgs returns the positional arguments of updateSQL; the first 21
// line up with insertSQL as well.
func updateArgs(ev *model.Event) []any {
	var (
		freq, endType     sql.NullString
		interval, occurs  sql.NullInt64
		endDate           sql.NullTime
		daysOfWeek        pq.Int64Array
		parentID, creator sql.NullString
		deletedAt         sql.NullTime
	)
	if p := ev.RecurrencePattern; p != nil {
		freq = sql.NullString{String: string(p.Frequency), Valid: true}
		interval = sql.NullInt64{Int64: int64(p.Interval), Valid: true}
		endType = sql.NullString{String: string(p.EndType), Valid: true}
		if p.Occurrences > 0 {
			occurs = sql.NullInt64{Int64: int64(p.Occurrences), Valid: true}
		}
		if p.EndDate != nil {
			endDate = sql.NullTime{Time: p.EndDate.UTC(), Valid: true}
		}
		for _, d := range p.DaysOfWeek {
			daysOfWeek = append(daysOfWeek, int64(d))
		}
	}
	if ev.ParentEventID != "" {
		parentID = sql.NullString{String: ev.ParentEventID, Valid: true}
	}
	if ev.CreatedByAdminID != "" {
		creator = sql.NullString{String: ev.CreatedByAdminID, Valid: true}
	}
	if ev.DeletedAt != nil {
		deletedAt = sql.NullTime{Time: ev.DeletedAt.UTC(), Valid: true}
	}
	cancelled := pq.StringArray(ev.CancelledDates)
	if cancelled == nil {
		cancelled = pq.StringArray{}
	}

	return []any{
		ev.ID, ev.Title, ev.Description, string(ev.EventType), ev.StartDateTime.UTC(), ev.DurationMinutes,
		ev.Timezone, ev.MeetingLink, string(ev.MeetingProvider), ev.IsRecurring,
		freq, interval, daysOfWeek, endType, occurs, endDate,
		cancelled, parentID, creator, ev.IsActive, deletedAt, ev.UpdatedAt.UTC(),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var (
		ev                model.Event
		eventType, prov   string
		freq, endType     sql.NullString
		interval, occurs  sql.NullInt64
		endDate           sql.NullTime
		daysOfWeek        pq.Int64Array
		cancelled         pq.StringArray
		parentID, creator sql.NullString
		deletedAt         sql.NullTime
	)
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Description, &eventType, &ev.StartDateTime, &ev.DurationMinutes,
		&ev.Timezone, &ev.MeetingLink, &prov, &ev.IsRecurring,
		&freq, &interval, &daysOfWeek, &endType, &occurs, &endDate,
		&cancelled, &parentID, &creator, &ev.IsActive, &deletedAt, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.EventType = model.EventType(eventType)
	ev.MeetingProvider = model.MeetingProvider(prov)
	ev.StartDateTime = ev.StartDateTime.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	ev.ParentEventID = parentID.String
	ev.CreatedByAdminID = creator.String
	ev.CancelledDates = []string(cancelled)
	if ev.CancelledDates == nil {
		ev.CancelledDates = []string{}
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		ev.DeletedAt = &t
	}

	if freq.Valid {
		p := &model.RecurrencePattern{
			Frequency:   model.Frequency(freq.String),
			Interval:    int(interval.Int64),
			EndType:     model.EndType(endType.String),
			Occurrences: int(occurs.Int64),
		}
		for _, d := range daysOfWeek {
			p.DaysOfWeek = append(p.DaysOfWeek, int(d))
		}
		if endDate.Valid {
			t := endDate.Time.UTC()
			p.EndDate = &t
		}
		ev.RecurrencePattern = p
	}
	return &ev, nil
}
