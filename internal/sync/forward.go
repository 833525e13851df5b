package sync

import (
	"context"
	"errors"
	"fmt"

	"taskbridge/internal/domain"
	"taskbridge/internal/ledger"
	"taskbridge/internal/suite"
)

const reminderMinutes = 30

// RecordChanged is the forward synchronizer: one source row changed, so the
// corresponding task is created or updated. A nil task with nil error means
// the event was attributed to the bridge's own bot identity and was dropped
// to break the reverse-sync feedback loop.
func (e Engine) RecordChanged(ctx context.Context, ev domain.RecordChange) (*suite.Task, error) {
	if ev.UpdateBy != "" && ev.UpdateBy == e.Config.Sync.BotUser {
		e.log().WithFields(map[string]any{
			"base_id": ev.BaseID, "table_id": ev.TableID, "record_id": ev.RecordID,
		}).Debug("dropping self-originated record change")
		return nil, nil
	}
	link, err := e.Ledger.FindTaskLink(ctx, ev.BaseID, ev.TableID, ev.RecordID)
	if errors.Is(err, ledger.ErrNotFound) {
		task, err := e.createTask(ctx, ev)
		if err != nil {
			return nil, err
		}
		return &task, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task link: %w", err)
	}
	task, err := e.updateTask(ctx, ev, link)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// statusLabel maps the webhook's status text onto one of the four labels,
// defaulting blank input to "Not yet started".
func statusLabel(raw string) (domain.Status, error) {
	if raw == "" {
		return domain.StatusNotStarted, nil
	}
	label := domain.Status(raw)
	for _, s := range domain.Statuses() {
		if label == s {
			return label, nil
		}
	}
	return "", fmt.Errorf("unknown status label %q", raw)
}

// orSpace substitutes a single space for empty text: the task service
// rejects empty summary and description strings.
func orSpace(s string) string {
	if s == "" {
		return " "
	}
	return s
}

func (e Engine) createTask(ctx context.Context, ev domain.RecordChange) (suite.Task, error) {
	prov, err := e.EnsureTasklist(ctx, ev.BaseID, ev.TableID, ev.Phase, ev.CreateBy, ev.Owner)
	if err != nil {
		return suite.Task{}, err
	}
	label, err := statusLabel(ev.Status)
	if err != nil {
		return suite.Task{}, err
	}
	optionID, err := prov.Tasklist.Options.OptionFor(label)
	if err != nil {
		return suite.Task{}, err
	}

	start := e.orNowMillis(ev.StartTime)
	due := clampDue(start, e.orNowMillis(ev.EndTime))
	completedAt := "0"
	if label == domain.StatusCompleted {
		completedAt = e.nowMillis()
	}
	var members []suite.Member
	if ev.Owner != "" {
		members = append(members, suite.UserMember(ev.Owner, "assignee"))
	}
	if ev.CreateBy != "" {
		members = append(members, suite.UserMember(ev.CreateBy, "follower"))
	}

	task, err := e.Suite.CreateTask(ctx, suite.CreateTaskRequest{
		Summary:     orSpace(ev.Title),
		Description: orSpace(ev.Description),
		CompletedAt: completedAt,
		Start:       &suite.Timestamp{Timestamp: start},
		Due:         &suite.Timestamp{Timestamp: due},
		Members:     members,
		Tasklists: []suite.TasklistPlacement{{
			TasklistGUID: prov.Tasklist.TasklistID,
			SectionGUID:  prov.SectionID,
		}},
		CustomFields: []suite.CustomFieldValue{{
			GUID:              prov.Tasklist.CustomFieldID,
			SingleSelectValue: optionID,
		}},
		Reminders: []suite.Reminder{{RelativeFireMinute: reminderMinutes}},
	})
	if err != nil {
		return suite.Task{}, fmt.Errorf("create task: %w", err)
	}

	// The link row is the idempotency barrier: losing it would duplicate the
	// task on the next delivery, so a failed insert aborts the webhook.
	if err := e.Ledger.InsertTaskLink(ctx, domain.TaskLink{
		BaseID:   ev.BaseID,
		TableID:  ev.TableID,
		RecordID: ev.RecordID,
		TaskID:   task.GUID,
	}, e.now()); err != nil {
		return suite.Task{}, fmt.Errorf("insert task link: %w", err)
	}

	if ev.Owner != "" {
		if err := e.Suite.AddTasklistMembers(ctx, prov.Tasklist.TasklistID, []suite.Member{
			suite.UserMember(ev.Owner, "viewer"),
		}); err != nil {
			return suite.Task{}, fmt.Errorf("add tasklist viewer: %w", err)
		}
	}
	e.audit(ctx, "task.created", ev.BaseID, ev.TableID, ev.RecordID, task.GUID, map[string]any{
		"status": string(label), "section_id": prov.SectionID,
	})
	return task, nil
}

func (e Engine) updateTask(ctx context.Context, ev domain.RecordChange, link domain.TaskLink) (suite.Task, error) {
	task, err := e.Suite.GetTask(ctx, link.TaskID)
	if err != nil {
		return suite.Task{}, fmt.Errorf("get task: %w", err)
	}
	tl, err := e.Ledger.FindTasklist(ctx, ev.BaseID, ev.TableID)
	if err != nil {
		return suite.Task{}, fmt.Errorf("find tasklist mapping: %w", err)
	}
	label, err := statusLabel(ev.Status)
	if err != nil {
		return suite.Task{}, err
	}
	optionID, err := tl.Options.OptionFor(label)
	if err != nil {
		return suite.Task{}, err
	}

	if ev.Owner != "" {
		if err := e.reassign(ctx, task, ev.Owner); err != nil {
			return suite.Task{}, err
		}
	}

	patch, fields := e.buildPatch(task, ev, label, tl.CustomFieldID, optionID)
	if len(fields) > 0 {
		task, err = e.Suite.UpdateTask(ctx, link.TaskID, patch, fields)
		if err != nil {
			return suite.Task{}, fmt.Errorf("update task: %w", err)
		}
	}

	if ev.Owner != "" {
		if err := e.Suite.AddTasklistMembers(ctx, tl.TasklistID, []suite.Member{
			suite.UserMember(ev.Owner, "viewer"),
		}); err != nil {
			return suite.Task{}, fmt.Errorf("add tasklist viewer: %w", err)
		}
	}
	e.audit(ctx, "task.updated", ev.BaseID, ev.TableID, ev.RecordID, link.TaskID, map[string]any{
		"status": string(label), "fields": fields,
	})
	return task, nil
}

// reassign moves the assignee role to owner when it is currently held by
// someone else.
func (e Engine) reassign(ctx context.Context, task suite.Task, owner string) error {
	current, ok := task.Assignee()
	if ok && current.ID == owner {
		return nil
	}
	if ok {
		if err := e.Suite.RemoveTaskMembers(ctx, task.GUID, []suite.Member{
			suite.UserMember(current.ID, "assignee"),
		}); err != nil {
			return fmt.Errorf("remove assignee: %w", err)
		}
	}
	if err := e.Suite.AddTaskMembers(ctx, task.GUID, []suite.Member{
		suite.UserMember(owner, "assignee"),
	}); err != nil {
		return fmt.Errorf("add assignee: %w", err)
	}
	return nil
}

// buildPatch compares the incoming record against the fetched task and marks
// only the differing fields for update.
func (e Engine) buildPatch(task suite.Task, ev domain.RecordChange, label domain.Status, fieldGUID, optionID string) (suite.UpdateTaskRequest, []string) {
	var patch suite.UpdateTaskRequest
	var fields []string

	if summary := orSpace(ev.Title); summary != task.Summary {
		patch.Summary = summary
		fields = append(fields, "summary")
	}
	if desc := orSpace(ev.Description); desc != task.Description {
		patch.Description = desc
		fields = append(fields, "description")
	}
	start := e.orNowMillis(ev.StartTime)
	if ev.StartTime != "" && start != task.Start.Timestamp {
		patch.Start = &suite.Timestamp{Timestamp: start}
		fields = append(fields, "start")
	}
	if due := clampDue(start, e.orNowMillis(ev.EndTime)); ev.EndTime != "" && due != task.Due.Timestamp {
		patch.Due = &suite.Timestamp{Timestamp: due}
		fields = append(fields, "due")
	}
	completedAt := "0"
	if label == domain.StatusCompleted {
		completedAt = e.nowMillis()
	}
	if (label == domain.StatusCompleted) != (task.Status != "todo") {
		patch.CompletedAt = completedAt
		fields = append(fields, "completed_at")
	}
	if task.CustomFieldValueFor(fieldGUID) != optionID {
		patch.CustomFields = []suite.CustomFieldValue{{GUID: fieldGUID, SingleSelectValue: optionID}}
		fields = append(fields, "custom_fields")
	}
	return patch, fields
}
