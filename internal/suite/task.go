package suite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"taskbridge/internal/domain"
)

// Identifier schemes differ per endpoint: writes address users by union id,
// member removal takes the open ids the task detail reports.
const (
	unionIDType = "union_id"
	openIDType  = "open_id"
)

// CreateTasklist creates a named tasklist with initial members.
func (c *Client) CreateTasklist(ctx context.Context, name string, members []Member) (Tasklist, error) {
	var out struct {
		Tasklist Tasklist `json:"tasklist"`
	}
	body := map[string]any{"name": name, "members": members}
	err := c.do(ctx, http.MethodPost, "task/v2/tasklists?user_id_type="+unionIDType, body, &out)
	return out.Tasklist, err
}

// CreateSection creates a section under a tasklist.
func (c *Client) CreateSection(ctx context.Context, name, tasklistGUID string) (Section, error) {
	var out struct {
		Section Section `json:"section"`
	}
	body := map[string]any{
		"name":          name,
		"resource_type": "tasklist",
		"resource_id":   tasklistGUID,
	}
	err := c.do(ctx, http.MethodPost, "task/v2/sections", body, &out)
	return out.Section, err
}

// statusOption is one fixed option of the status field with its display
// color.
type statusOption struct {
	name       string
	colorIndex int
}

var statusOptions = []statusOption{
	{string(domain.StatusNotStarted), 52},
	{string(domain.StatusOngoing), 11},
	{string(domain.StatusCompleted), 20},
	{string(domain.StatusStalled), 52},
}

// CreateStatusField attaches the four-option single-select "status" field to
// a tasklist and returns its GUID together with the option GUIDs by label.
func (c *Client) CreateStatusField(ctx context.Context, tasklistGUID string) (string, domain.StatusOptionMap, error) {
	options := make([]map[string]any, 0, len(statusOptions))
	for _, o := range statusOptions {
		options = append(options, map[string]any{
			"name":        o.name,
			"color_index": o.colorIndex,
			"is_hidden":   false,
		})
	}
	body := map[string]any{
		"resource_type": "tasklist",
		"resource_id":   tasklistGUID,
		"name":          "status",
		"type":          "single_select",
		"single_select_setting": map[string]any{
			"options": options,
		},
	}
	var out struct {
		CustomField struct {
			GUID    string `json:"guid"`
			Setting struct {
				Options []struct {
					GUID string `json:"guid"`
					Name string `json:"name"`
				} `json:"options"`
			} `json:"single_select_setting"`
		} `json:"custom_field"`
	}
	if err := c.do(ctx, http.MethodPost, "task/v2/custom_fields", body, &out); err != nil {
		return "", domain.StatusOptionMap{}, err
	}
	var m domain.StatusOptionMap
	for _, o := range out.CustomField.Setting.Options {
		switch domain.Status(o.Name) {
		case domain.StatusNotStarted:
			m.NotStarted = o.GUID
		case domain.StatusOngoing:
			m.Ongoing = o.GUID
		case domain.StatusCompleted:
			m.Completed = o.GUID
		case domain.StatusStalled:
			m.Stalled = o.GUID
		}
	}
	if m.NotStarted == "" || m.Ongoing == "" || m.Completed == "" || m.Stalled == "" {
		return "", domain.StatusOptionMap{}, fmt.Errorf("status field %s missing option guids", out.CustomField.GUID)
	}
	return out.CustomField.GUID, m, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (Task, error) {
	var out struct {
		Task Task `json:"task"`
	}
	err := c.do(ctx, http.MethodPost, "task/v2/tasks?user_id_type="+unionIDType, req, &out)
	return out.Task, err
}

// GetTask fetches full task detail.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var out struct {
		Task Task `json:"task"`
	}
	endpoint := fmt.Sprintf("task/v2/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out.Task, err
}

// UpdateTask patches a task; only the fields named in updateFields are applied.
func (c *Client) UpdateTask(ctx context.Context, taskID string, patch UpdateTaskRequest, updateFields []string) (Task, error) {
	var out struct {
		Task Task `json:"task"`
	}
	endpoint := fmt.Sprintf("task/v2/tasks/%s?user_id_type=%s", url.PathEscape(taskID), unionIDType)
	body := map[string]any{"task": patch, "update_fields": updateFields}
	err := c.do(ctx, http.MethodPatch, endpoint, body, &out)
	return out.Task, err
}

// AddTasklistMembers adds members to a tasklist.
func (c *Client) AddTasklistMembers(ctx context.Context, tasklistGUID string, members []Member) error {
	endpoint := fmt.Sprintf("task/v2/tasklists/%s/add_members?user_id_type=%s", url.PathEscape(tasklistGUID), unionIDType)
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"members": members}, nil)
}

// AddTaskMembers adds members to a task.
func (c *Client) AddTaskMembers(ctx context.Context, taskID string, members []Member) error {
	endpoint := fmt.Sprintf("task/v2/tasks/%s/add_members?user_id_type=%s", url.PathEscape(taskID), unionIDType)
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"members": members}, nil)
}

// RemoveTaskMembers removes members from a task.
func (c *Client) RemoveTaskMembers(ctx context.Context, taskID string, members []Member) error {
	endpoint := fmt.Sprintf("task/v2/tasks/%s/remove_members?user_id_type=%s", url.PathEscape(taskID), openIDType)
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{"members": members}, nil)
}
