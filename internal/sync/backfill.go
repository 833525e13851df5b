package sync

import (
	"context"
	"errors"
	"fmt"

	"taskbridge/internal/domain"
	"taskbridge/internal/ledger"
	"taskbridge/internal/suite"
)

// BackfillTable walks a table that predates the bridge and creates tasks for
// every row that has an owner and no link yet. Returns the number of tasks
// created.
func (e Engine) BackfillTable(ctx context.Context, baseID, tableID string) (int, error) {
	f := e.Config.Sync.Fields
	records, err := e.Suite.SearchRecords(ctx, baseID, tableID, suite.SearchFilter{
		Conjunction: "and",
		Conditions: []suite.SearchCondition{
			{FieldName: f.Owner, Operator: "isNotEmpty", Value: []string{}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("search records: %w", err)
	}

	created := 0
	for _, rec := range records {
		_, err := e.Ledger.FindTaskLink(ctx, baseID, tableID, rec.RecordID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return created, fmt.Errorf("find task link: %w", err)
		}
		ev := e.recordChange(baseID, tableID, rec)
		if _, err := e.createTask(ctx, ev); err != nil {
			return created, fmt.Errorf("backfill record %s: %w", rec.RecordID, err)
		}
		created++
		e.log().WithFields(map[string]any{
			"record_id": rec.RecordID, "table_id": tableID,
		}).Info("backfilled record")
	}
	e.audit(ctx, "table.backfilled", baseID, tableID, "", "", map[string]any{
		"created": created, "scanned": len(records),
	})
	return created, nil
}

// recordChange flattens a fetched row into the same shape a webhook delivers.
func (e Engine) recordChange(baseID, tableID string, rec suite.Record) domain.RecordChange {
	f := e.Config.Sync.Fields
	owner := fieldPersonID(rec.Fields[f.Owner])
	return domain.RecordChange{
		BaseID:      baseID,
		TableID:     tableID,
		RecordID:    rec.RecordID,
		Title:       fieldText(rec.Fields[f.Process]),
		Description: fieldText(rec.Fields[f.Remark]),
		StartTime:   fieldMillis(rec.Fields[f.Start]),
		EndTime:     fieldMillis(rec.Fields[f.Estimate]),
		Owner:       owner,
		Status:      fieldText(rec.Fields[f.Status]),
		Phase:       fieldText(rec.Fields[f.Phase]),
		CreateBy:    owner,
	}
}
