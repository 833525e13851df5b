package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"taskbridge/internal/domain"
)

// Store is the mapping ledger: the persistent relations that make every sync
// idempotent. A lost row here causes duplicate external entities, so no write
// failure is ever swallowed.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsConflict reports whether err is a uniqueness violation. The claim
// pattern in the provisioner relies on this to detect a concurrent winner.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

const tasklistCols = `base_id,table_id,tasklist_id,tasklist_name,custom_field_id,not_started_id,on_going_id,completed_id,stalled_id,state,created_at`

func scanTasklist(row interface{ Scan(...any) error }) (domain.Tasklist, error) {
	var t domain.Tasklist
	err := row.Scan(&t.BaseID, &t.TableID, &t.TasklistID, &t.TasklistName, &t.CustomFieldID,
		&t.Options.NotStarted, &t.Options.Ongoing, &t.Options.Completed, &t.Options.Stalled,
		&t.State, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// FindTasklist returns the tasklist row for (base, table).
func (s Store) FindTasklist(ctx context.Context, baseID, tableID string) (domain.Tasklist, error) {
	return scanTasklist(s.DB.QueryRowContext(ctx,
		`SELECT `+tasklistCols+` FROM tasklists WHERE base_id=? AND table_id=?`, baseID, tableID))
}

// ClaimTasklist inserts a pending placeholder row for (base, table). A
// uniqueness violation means another request holds or filled the claim;
// callers detect that with IsConflict and re-read.
func (s Store) ClaimTasklist(ctx context.Context, baseID, tableID string, now time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tasklists(base_id,table_id,state,created_at) VALUES (?,?,?,?)`,
		baseID, tableID, domain.TasklistPending, now.UTC().Format(time.RFC3339))
	return err
}

// FillTasklist replaces a pending claim with the provisioned external IDs.
func (s Store) FillTasklist(ctx context.Context, t domain.Tasklist) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasklists SET tasklist_id=?, tasklist_name=?, custom_field_id=?,
		 not_started_id=?, on_going_id=?, completed_id=?, stalled_id=?, state=?
		 WHERE base_id=? AND table_id=?`,
		t.TasklistID, t.TasklistName, t.CustomFieldID,
		t.Options.NotStarted, t.Options.Ongoing, t.Options.Completed, t.Options.Stalled,
		domain.TasklistReady, t.BaseID, t.TableID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseTasklist deletes a claim row so a later attempt is not blocked by a
// permanently broken placeholder. Only pending rows are removed.
func (s Store) ReleaseTasklist(ctx context.Context, baseID, tableID string) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM tasklists WHERE base_id=? AND table_id=? AND state=?`,
		baseID, tableID, domain.TasklistPending)
	return err
}

// ListTasklists returns every tasklist row, newest first.
func (s Store) ListTasklists(ctx context.Context) ([]domain.Tasklist, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+tasklistCols+` FROM tasklists ORDER BY created_at DESC, base_id, table_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tasklist
	for rows.Next() {
		t, err := scanTasklist(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// FindSection returns the section row for a phase name within (base, table).
func (s Store) FindSection(ctx context.Context, baseID, tableID, name string) (domain.Section, error) {
	var sec domain.Section
	err := s.DB.QueryRowContext(ctx,
		`SELECT base_id,table_id,name,section_id,created_at FROM sections WHERE base_id=? AND table_id=? AND name=?`,
		baseID, tableID, name).
		Scan(&sec.BaseID, &sec.TableID, &sec.Name, &sec.SectionID, &sec.CreatedAt)
	if err == sql.ErrNoRows {
		return sec, ErrNotFound
	}
	return sec, err
}

// InsertSection records a provisioned section. Conflicting inserts from a
// concurrent request are tolerated by callers via IsConflict.
func (s Store) InsertSection(ctx context.Context, sec domain.Section, now time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sections(base_id,table_id,name,section_id,created_at) VALUES (?,?,?,?,?)`,
		sec.BaseID, sec.TableID, sec.Name, sec.SectionID, now.UTC().Format(time.RFC3339))
	return err
}

// ListSections returns the sections recorded for (base, table).
func (s Store) ListSections(ctx context.Context, baseID, tableID string) ([]domain.Section, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT base_id,table_id,name,section_id,created_at FROM sections WHERE base_id=? AND table_id=? ORDER BY created_at`,
		baseID, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Section
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.BaseID, &sec.TableID, &sec.Name, &sec.SectionID, &sec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sec)
	}
	return res, rows.Err()
}

// FindTaskLink returns the task link for one source record.
func (s Store) FindTaskLink(ctx context.Context, baseID, tableID, recordID string) (domain.TaskLink, error) {
	var l domain.TaskLink
	err := s.DB.QueryRowContext(ctx,
		`SELECT base_id,table_id,record_id,task_id,created_at FROM task_links WHERE base_id=? AND table_id=? AND record_id=?`,
		baseID, tableID, recordID).
		Scan(&l.BaseID, &l.TableID, &l.RecordID, &l.TaskID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

// FindTaskLinkByTask resolves the owning record from a task GUID.
func (s Store) FindTaskLinkByTask(ctx context.Context, taskID string) (domain.TaskLink, error) {
	var l domain.TaskLink
	err := s.DB.QueryRowContext(ctx,
		`SELECT base_id,table_id,record_id,task_id,created_at FROM task_links WHERE task_id=? LIMIT 1`, taskID).
		Scan(&l.BaseID, &l.TableID, &l.RecordID, &l.TaskID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

// InsertTaskLink records the task created for a record. The primary key on
// (base, table, record) guarantees at most one task per source row.
func (s Store) InsertTaskLink(ctx context.Context, l domain.TaskLink, now time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO task_links(base_id,table_id,record_id,task_id,created_at) VALUES (?,?,?,?,?)`,
		l.BaseID, l.TableID, l.RecordID, l.TaskID, now.UTC().Format(time.RFC3339))
	return err
}

// ListTaskLinks returns task links, newest first, optionally filtered by
// base and table.
func (s Store) ListTaskLinks(ctx context.Context, baseID, tableID string, limit int) ([]domain.TaskLink, error) {
	clauses := []string{"1=1"}
	var args []any
	if baseID != "" {
		clauses = append(clauses, "base_id=?")
		args = append(args, baseID)
	}
	if tableID != "" {
		clauses = append(clauses, "table_id=?")
		args = append(args, tableID)
	}
	query := `SELECT base_id,table_id,record_id,task_id,created_at FROM task_links WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, record_id`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskLink
	for rows.Next() {
		var l domain.TaskLink
		if err := rows.Scan(&l.BaseID, &l.TableID, &l.RecordID, &l.TaskID, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// LatestEvents returns sync audit events, newest first.
func (s Store) LatestEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	args = append(args, limit)
	query := `SELECT id,ts,type,COALESCE(base_id,''),COALESCE(table_id,''),COALESCE(record_id,''),COALESCE(task_id,''),COALESCE(payload_json,'') FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.BaseID, &e.TableID, &e.RecordID, &e.TaskID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (s Store) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(base_id,''),COALESCE(table_id,''),COALESCE(record_id,''),COALESCE(task_id,''),COALESCE(payload_json,'') FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.BaseID, &e.TableID, &e.RecordID, &e.TaskID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
