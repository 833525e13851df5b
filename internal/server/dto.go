package server

import (
	"taskbridge/internal/domain"
	"taskbridge/internal/suite"
)

// RecordSyncRequest is a record-changed delivery from the workspace
// automation.
type RecordSyncRequest struct {
	BaseID      string `json:"base_id"`
	TableID     string `json:"table_id"`
	RecordID    string `json:"record_id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Status      string `json:"status,omitempty"`
	Phase       string `json:"phase,omitempty"`
	CreateBy    string `json:"create_by,omitempty"`
	UpdateBy    string `json:"update_by,omitempty"`
}

func (r RecordSyncRequest) change() domain.RecordChange {
	return domain.RecordChange{
		BaseID:      r.BaseID,
		TableID:     r.TableID,
		RecordID:    r.RecordID,
		Title:       r.Title,
		Description: r.Description,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Owner:       r.Owner,
		Status:      r.Status,
		Phase:       r.Phase,
		CreateBy:    r.CreateBy,
		UpdateBy:    r.UpdateBy,
	}
}

// RecordSyncResponse carries the synced task, or nothing when the delivery
// was a self-loop no-op.
type RecordSyncResponse struct {
	Skipped bool         `json:"skipped,omitempty"`
	Task    *TaskSummary `json:"task,omitempty"`
}

// TaskSummary is the subset of the task resource echoed to webhook callers.
type TaskSummary struct {
	GUID    string `json:"guid"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
}

func taskSummary(t *suite.Task) *TaskSummary {
	if t == nil {
		return nil
	}
	return &TaskSummary{GUID: t.GUID, Summary: t.Summary, Status: t.Status, URL: t.URL}
}

// TaskEventRequest is a delivery from the task service's event subscription.
// A verification handshake carries only Challenge.
type TaskEventRequest struct {
	Challenge string `json:"challenge,omitempty"`
	Type      string `json:"type,omitempty"`
	Header    struct {
		EventType string `json:"event_type,omitempty"`
	} `json:"header,omitempty"`
	Event struct {
		TaskID string `json:"task_id,omitempty"`
	} `json:"event,omitempty"`
}

type TaskEventResponse struct {
	Challenge string `json:"challenge,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
}

type BackfillRequest struct {
	BaseID  string `json:"base_id"`
	TableID string `json:"table_id"`
}

type BackfillResponse struct {
	Created int `json:"created"`
}

// TasklistMapping is one provisioned (base, table) → tasklist row.
type TasklistMapping struct {
	BaseID        string `json:"base_id"`
	TableID       string `json:"table_id"`
	TasklistID    string `json:"tasklist_id"`
	TasklistName  string `json:"tasklist_name"`
	CustomFieldID string `json:"custom_field_id"`
	State         string `json:"state"`
	CreatedAt     string `json:"created_at"`
}

func tasklistMapping(t domain.Tasklist) TasklistMapping {
	return TasklistMapping{
		BaseID:        t.BaseID,
		TableID:       t.TableID,
		TasklistID:    t.TasklistID,
		TasklistName:  t.TasklistName,
		CustomFieldID: t.CustomFieldID,
		State:         t.State,
		CreatedAt:     t.CreatedAt,
	}
}

func mapTasklists(items []domain.Tasklist) []TasklistMapping {
	out := make([]TasklistMapping, 0, len(items))
	for _, t := range items {
		out = append(out, tasklistMapping(t))
	}
	return out
}

// TaskLinkMapping is one record → task row.
type TaskLinkMapping struct {
	BaseID    string `json:"base_id"`
	TableID   string `json:"table_id"`
	RecordID  string `json:"record_id"`
	TaskID    string `json:"task_id"`
	CreatedAt string `json:"created_at"`
}

func mapTaskLinks(items []domain.TaskLink) []TaskLinkMapping {
	out := make([]TaskLinkMapping, 0, len(items))
	for _, l := range items {
		out = append(out, TaskLinkMapping{
			BaseID:    l.BaseID,
			TableID:   l.TableID,
			RecordID:  l.RecordID,
			TaskID:    l.TaskID,
			CreatedAt: l.CreatedAt,
		})
	}
	return out
}

// EventRow is one audit log entry.
type EventRow struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	BaseID   string `json:"base_id,omitempty"`
	TableID  string `json:"table_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Payload  string `json:"payload_json,omitempty"`
}

func mapEvents(items []domain.Event) []EventRow {
	out := make([]EventRow, 0, len(items))
	for _, e := range items {
		out = append(out, EventRow{
			ID:       e.ID,
			TS:       e.TS,
			Type:     e.Type,
			BaseID:   e.BaseID,
			TableID:  e.TableID,
			RecordID: e.RecordID,
			TaskID:   e.TaskID,
			Payload:  e.Payload,
		})
	}
	return out
}
