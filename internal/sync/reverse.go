package sync

import (
	"context"
	"fmt"
	"strings"

	"taskbridge/internal/domain"
	"taskbridge/internal/suite"
)

// TaskChanged is the reverse synchronizer: a task changed in the task
// service, so the source record is patched to match. The returned record ID
// identifies the row that was written.
func (e Engine) TaskChanged(ctx context.Context, ev domain.TaskEvent) (string, error) {
	task, err := e.Suite.GetTask(ctx, ev.TaskID)
	if err != nil {
		return "", fmt.Errorf("get task: %w", err)
	}
	link, err := e.Ledger.FindTaskLinkByTask(ctx, ev.TaskID)
	if err != nil {
		return "", fmt.Errorf("resolve task link: %w", err)
	}
	tl, err := e.Ledger.FindTasklist(ctx, link.BaseID, link.TableID)
	if err != nil {
		return "", fmt.Errorf("find tasklist mapping: %w", err)
	}
	record, err := e.Suite.GetRecord(ctx, link.BaseID, link.TableID, link.RecordID)
	if err != nil {
		return "", fmt.Errorf("get record: %w", err)
	}

	recordStatus := domain.Status(fieldText(record.Fields[e.Config.Sync.Fields.Status]))
	label := deriveStatus(task, ev.EventType, tl.CustomFieldID, tl.Options, recordStatus)

	fields := map[string]any{
		e.Config.Sync.Fields.Process: task.Summary,
		e.Config.Sync.Fields.Remark:  task.Description,
		e.Config.Sync.Fields.Status:  string(label),
	}
	if ms, ok := parseMillis(task.Start.Timestamp); ok {
		fields[e.Config.Sync.Fields.Start] = ms
	}
	if ms, ok := parseMillis(task.Due.Timestamp); ok {
		fields[e.Config.Sync.Fields.Estimate] = ms
	}
	if task.Status != "todo" {
		if ms, ok := parseMillis(e.nowMillis()); ok {
			fields[e.Config.Sync.Fields.DueDate] = ms
		}
	} else {
		fields[e.Config.Sync.Fields.DueDate] = nil
	}

	if err := e.Suite.UpdateRecord(ctx, link.BaseID, link.TableID, link.RecordID, fields); err != nil {
		return "", fmt.Errorf("update record: %w", err)
	}

	// Echo the derived label back onto the task so the custom field never
	// disagrees with the record it was just written to.
	optionID, err := tl.Options.OptionFor(label)
	if err != nil {
		return "", err
	}
	if task.CustomFieldValueFor(tl.CustomFieldID) != optionID {
		if _, err := e.Suite.UpdateTask(ctx, task.GUID, suite.UpdateTaskRequest{
			CustomFields: []suite.CustomFieldValue{{GUID: tl.CustomFieldID, SingleSelectValue: optionID}},
		}, []string{"custom_fields"}); err != nil {
			return "", fmt.Errorf("echo status to task: %w", err)
		}
	}

	e.audit(ctx, "record.updated", link.BaseID, link.TableID, link.RecordID, task.GUID, map[string]any{
		"event_type": ev.EventType, "status": string(label),
	})
	return link.RecordID, nil
}

// deriveStatus picks the record status implied by the task's state. A done
// task always reads Completed. A status the bridge cannot interpret, a task
// reopened after the record was marked Completed, or a comment on a
// not-yet-started record all settle on Ongoing rather than ping-ponging
// between the two sides.
func deriveStatus(task suite.Task, eventType string, fieldGUID string, options domain.StatusOptionMap, recordStatus domain.Status) domain.Status {
	if task.Status != "todo" {
		return domain.StatusCompleted
	}
	label, ok := options.LabelFor(task.CustomFieldValueFor(fieldGUID))
	switch {
	case !ok:
		return domain.StatusOngoing
	case recordStatus == domain.StatusCompleted:
		return domain.StatusOngoing
	case strings.Contains(eventType, "comment") && recordStatus == domain.StatusNotStarted:
		return domain.StatusOngoing
	}
	return label
}
