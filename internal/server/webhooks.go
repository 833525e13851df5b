package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskbridge/internal/domain"
	"taskbridge/internal/sync"
)

func registerWebhooks(api huma.API, e sync.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "record-sync",
		Method:      http.MethodPost,
		Path:        "/webhooks/record-sync",
		Summary:     "Sync a changed record into the task service",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordSyncRequest `json:"body"`
	}) (*struct {
		Body RecordSyncResponse `json:"body"`
	}, error) {
		if input.Body.BaseID == "" || input.Body.TableID == "" || input.Body.RecordID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "base_id, table_id and record_id are required", nil)
		}
		task, err := e.RecordChanged(ctx, input.Body.change())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordSyncResponse `json:"body"`
		}{Body: RecordSyncResponse{
			Skipped: task == nil,
			Task:    taskSummary(task),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-event",
		Method:      http.MethodPost,
		Path:        "/webhooks/task-event",
		Summary:     "Apply a task service event back onto its source record",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body TaskEventRequest `json:"body"`
	}) (*struct {
		Body TaskEventResponse `json:"body"`
	}, error) {
		// Subscription verification: echo the challenge before touching
		// the ledger or the suite API.
		if input.Body.Challenge != "" {
			return &struct {
				Body TaskEventResponse `json:"body"`
			}{Body: TaskEventResponse{Challenge: input.Body.Challenge}}, nil
		}
		if input.Body.Event.TaskID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "event.task_id is required", nil)
		}
		recordID, err := e.TaskChanged(ctx, domain.TaskEvent{
			TaskID:    input.Body.Event.TaskID,
			EventType: input.Body.Header.EventType,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskEventResponse `json:"body"`
		}{Body: TaskEventResponse{RecordID: recordID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "backfill",
		Method:      http.MethodPost,
		Path:        "/webhooks/backfill",
		Summary:     "Create tasks for every unlinked owned record of a table",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body BackfillRequest `json:"body"`
	}) (*struct {
		Body BackfillResponse `json:"body"`
	}, error) {
		if input.Body.BaseID == "" || input.Body.TableID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "base_id and table_id are required", nil)
		}
		created, err := e.BackfillTable(ctx, input.Body.BaseID, input.Body.TableID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BackfillResponse `json:"body"`
		}{Body: BackfillResponse{Created: created}}, nil
	})
}

func registerMappings(api huma.API, e sync.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasklist-mappings",
		Method:      http.MethodGet,
		Path:        "/mappings/tasklists",
		Summary:     "List provisioned tasklists",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TasklistMapping `json:"body"`
	}, error) {
		items, err := e.Ledger.ListTasklists(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TasklistMapping `json:"body"`
		}{Body: mapTasklists(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-mappings",
		Method:      http.MethodGet,
		Path:        "/mappings/tasks",
		Summary:     "List record to task links",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		BaseID  string `query:"base_id"`
		TableID string `query:"table_id"`
		Limit   int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []TaskLinkMapping `json:"body"`
	}, error) {
		items, err := e.Ledger.ListTaskLinks(ctx, input.BaseID, input.TableID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskLinkMapping `json:"body"`
		}{Body: mapTaskLinks(items)}, nil
	})
}

func registerEvents(api huma.API, e sync.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List sync audit events",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"1000"`
		Type  string `query:"type"`
		After int64  `query:"after" minimum:"0" doc:"Return events with IDs greater than this cursor, oldest first"`
	}) (*struct {
		Body []EventRow `json:"body"`
	}, error) {
		var items []domain.Event
		var err error
		if input.After > 0 {
			items, err = e.Ledger.EventsAfter(ctx, input.Limit, input.After)
		} else {
			items, err = e.Ledger.LatestEvents(ctx, input.Limit, input.Type)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventRow `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
