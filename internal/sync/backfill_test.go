package sync_test

import (
	"testing"
)

func TestBackfillSkipsLinkedRecords(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.SetTable("tbl-1", "Rollout")
	f := env.Engine.Config.Sync.Fields

	// rec-1 is already linked through a webhook delivery.
	if _, err := env.Engine.RecordChanged(env.Ctx, baseChange()); err != nil {
		t.Fatalf("seed link: %v", err)
	}
	env.Fake.SetRecord("rec-1", map[string]any{
		f.Process: "Ship feature",
		f.Owner:   []any{map[string]any{"id": "owner-u"}},
		f.Status:  "Ongoing",
	})
	env.Fake.SetRecord("rec-2", map[string]any{
		f.Process: []any{map[string]any{"text": "Write docs"}},
		f.Owner:   []any{map[string]any{"id": "writer-u"}},
		f.Status:  "Not yet started",
		f.Phase:   "Phase 2",
		f.Start:   float64(1709200000000),
	})

	created, err := env.Engine.BackfillTable(env.Ctx, "base-1", "tbl-1")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected 1 created task, got %d", created)
	}
	links, err := env.Ledger.ListTaskLinks(env.Ctx, "base-1", "tbl-1", 10)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 link rows, got %d", len(links))
	}

	for _, l := range links {
		if l.RecordID != "rec-2" {
			continue
		}
		task := env.Fake.Task(l.TaskID)
		if task.Summary != "Write docs" {
			t.Fatalf("rich-text title not flattened: %q", task.Summary)
		}
		return
	}
	t.Fatalf("no link created for rec-2: %+v", links)
}

func TestBackfillIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.SetTable("tbl-1", "Rollout")
	f := env.Engine.Config.Sync.Fields
	env.Fake.SetRecord("rec-1", map[string]any{
		f.Process: "Only once",
		f.Owner:   []any{map[string]any{"id": "owner-u"}},
	})

	first, err := env.Engine.BackfillTable(env.Ctx, "base-1", "tbl-1")
	if err != nil {
		t.Fatalf("first backfill: %v", err)
	}
	second, err := env.Engine.BackfillTable(env.Ctx, "base-1", "tbl-1")
	if err != nil {
		t.Fatalf("second backfill: %v", err)
	}
	if first != 1 || second != 0 {
		t.Fatalf("expected 1 then 0 creations, got %d then %d", first, second)
	}
	if n := env.Fake.CallCount("POST task/v2/tasks"); n != 1 {
		t.Fatalf("expected one task creation, got %d", n)
	}
}
