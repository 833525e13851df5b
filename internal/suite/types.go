package suite

// Member is a person attached to a tasklist or task.
type Member struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Role string `json:"role"`
}

// UserMember builds a user member with the given role.
func UserMember(id, role string) Member {
	return Member{ID: id, Type: "user", Role: role}
}

// Timestamp is the task service's millisecond-epoch time value.
type Timestamp struct {
	Timestamp string `json:"timestamp"`
	IsAllDay  bool   `json:"is_all_day"`
}

// TasklistPlacement places a task into a section of a tasklist.
type TasklistPlacement struct {
	TasklistGUID string `json:"tasklist_guid"`
	SectionGUID  string `json:"section_guid,omitempty"`
}

// CustomFieldValue sets one custom field on a task.
type CustomFieldValue struct {
	GUID              string `json:"guid"`
	SingleSelectValue string `json:"single_select_value,omitempty"`
}

// TaskCustomField is a custom field value as read back from a task.
type TaskCustomField struct {
	GUID              string `json:"guid"`
	Type              string `json:"type"`
	Name              string `json:"name"`
	SingleSelectValue string `json:"single_select_value"`
}

// Task is the task service's task resource (partial).
type Task struct {
	GUID         string              `json:"guid"`
	Summary      string              `json:"summary"`
	Description  string              `json:"description"`
	Status       string              `json:"status"`
	CompletedAt  string              `json:"completed_at"`
	Start        Timestamp           `json:"start"`
	Due          Timestamp           `json:"due"`
	Members      []Member            `json:"members"`
	Tasklists    []TasklistPlacement `json:"tasklists"`
	CustomFields []TaskCustomField   `json:"custom_fields"`
	URL          string              `json:"url"`
}

// Assignee returns the first assignee member, if any.
func (t Task) Assignee() (Member, bool) {
	for _, m := range t.Members {
		if m.Role == "assignee" {
			return m, true
		}
	}
	return Member{}, false
}

// CustomFieldValueFor returns the single-select value of the named field GUID.
func (t Task) CustomFieldValueFor(fieldGUID string) string {
	for _, f := range t.CustomFields {
		if f.GUID == fieldGUID {
			return f.SingleSelectValue
		}
	}
	return ""
}

// CreateTaskRequest is the payload for task creation.
type CreateTaskRequest struct {
	Summary      string              `json:"summary"`
	Description  string              `json:"description"`
	CompletedAt  string              `json:"completed_at,omitempty"`
	Start        *Timestamp          `json:"start,omitempty"`
	Due          *Timestamp          `json:"due,omitempty"`
	Members      []Member            `json:"members,omitempty"`
	Tasklists    []TasklistPlacement `json:"tasklists,omitempty"`
	CustomFields []CustomFieldValue  `json:"custom_fields,omitempty"`
	Reminders    []Reminder          `json:"reminders,omitempty"`
}

// UpdateTaskRequest is the patch payload; UpdateFields names the keys to apply.
type UpdateTaskRequest struct {
	Summary      string             `json:"summary,omitempty"`
	Description  string             `json:"description,omitempty"`
	CompletedAt  string             `json:"completed_at,omitempty"`
	Start        *Timestamp         `json:"start,omitempty"`
	Due          *Timestamp         `json:"due,omitempty"`
	CustomFields []CustomFieldValue `json:"custom_fields,omitempty"`
}

// Reminder fires relative to a task's due time.
type Reminder struct {
	RelativeFireMinute int `json:"relative_fire_minute"`
}

// Tasklist is the task service's tasklist resource (partial).
type Tasklist struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Section is a phase grouping within a tasklist.
type Section struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// Table describes one sheet of a base.
type Table struct {
	TableID  string `json:"table_id"`
	Revision int    `json:"revision"`
	Name     string `json:"name"`
}

// Record is one row of a table. Field values are heterogeneous: rich text
// and person columns arrive as object arrays, dates as epoch millis.
type Record struct {
	RecordID string         `json:"record_id"`
	Fields   map[string]any `json:"fields"`
}

// SearchCondition is one clause of a record search filter.
type SearchCondition struct {
	FieldName string   `json:"field_name"`
	Operator  string   `json:"operator"`
	Value     []string `json:"value"`
}

// SearchFilter is an exact-match record search.
type SearchFilter struct {
	Conjunction string            `json:"conjunction"`
	Conditions  []SearchCondition `json:"conditions"`
}
