package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends rows to the sync audit log. Audit failures are surfaced to
// callers but synchronizers treat them as non-fatal: a missing audit row does
// not threaten the one-task-per-record invariant.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, evtType, baseID, tableID, recordID, taskID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx,
		`INSERT INTO events(ts,type,base_id,table_id,record_id,task_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(baseID), nullable(tableID), nullable(recordID), nullable(taskID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
