package domain

import "fmt"

// Status is one of the four workflow labels carried by the status
// custom field on every provisioned tasklist.
type Status string

const (
	StatusNotStarted Status = "Not yet started"
	StatusOngoing    Status = "Ongoing"
	StatusCompleted  Status = "Completed"
	StatusStalled    Status = "Stalled"
)

// Statuses lists every label in option order.
func Statuses() []Status {
	return []Status{StatusNotStarted, StatusOngoing, StatusCompleted, StatusStalled}
}

// StatusOptionMap relates the four status labels to the option GUIDs of one
// single-select custom field.
type StatusOptionMap struct {
	NotStarted string `json:"not_started_id"`
	Ongoing    string `json:"on_going_id"`
	Completed  string `json:"completed_id"`
	Stalled    string `json:"stalled_id"`
}

// OptionFor returns the option GUID for a label.
func (m StatusOptionMap) OptionFor(s Status) (string, error) {
	switch s {
	case StatusNotStarted:
		return m.NotStarted, nil
	case StatusOngoing:
		return m.Ongoing, nil
	case StatusCompleted:
		return m.Completed, nil
	case StatusStalled:
		return m.Stalled, nil
	}
	return "", fmt.Errorf("unknown status label %q", string(s))
}

// LabelFor reverse-maps an option GUID to its label. The second return is
// false when the GUID does not belong to this field.
func (m StatusOptionMap) LabelFor(optionID string) (Status, bool) {
	switch optionID {
	case "":
		return "", false
	case m.NotStarted:
		return StatusNotStarted, true
	case m.Ongoing:
		return StatusOngoing, true
	case m.Completed:
		return StatusCompleted, true
	case m.Stalled:
		return StatusStalled, true
	}
	return "", false
}

// Tasklist is one ledger row per (base, table): the provisioned tasklist and
// its status custom field. State is "pending" while a concurrent claim is
// being filled and "ready" once the external IDs are persisted.
type Tasklist struct {
	BaseID        string          `json:"base_id"`
	TableID       string          `json:"table_id"`
	TasklistID    string          `json:"tasklist_id"`
	TasklistName  string          `json:"tasklist_name"`
	CustomFieldID string          `json:"custom_field_id"`
	Options       StatusOptionMap `json:"options"`
	State         string          `json:"state" enum:"pending,ready"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
}

// Ready reports whether the row holds real provisioned IDs.
func (t Tasklist) Ready() bool { return t.State == TasklistReady }

const (
	TasklistPending = "pending"
	TasklistReady   = "ready"
)

// Section is one phase grouping under a provisioned tasklist.
type Section struct {
	BaseID    string `json:"base_id"`
	TableID   string `json:"table_id"`
	Name      string `json:"name"`
	SectionID string `json:"section_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TaskLink is one ledger row per source record that owns a task.
type TaskLink struct {
	BaseID    string `json:"base_id"`
	TableID   string `json:"table_id"`
	RecordID  string `json:"record_id"`
	TaskID    string `json:"task_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RecordChange is the forward-sync webhook payload: one row of the source
// table changed.
type RecordChange struct {
	BaseID      string `json:"base_id"`
	TableID     string `json:"table_id"`
	RecordID    string `json:"record_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Owner       string `json:"owner"`
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	CreateBy    string `json:"create_by"`
	UpdateBy    string `json:"update_by,omitempty"`
}

// TaskEvent is the reverse-sync webhook payload from the task service.
type TaskEvent struct {
	TaskID    string `json:"task_id"`
	EventType string `json:"event_type"`
}

// Event is one row of the sync audit log.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	BaseID   string `json:"base_id,omitempty"`
	TableID  string `json:"table_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	TaskID   string `json:"task_id,omitempty"`
	Payload  string `json:"payload_json"`
}
