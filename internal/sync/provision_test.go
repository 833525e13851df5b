package sync_test

import (
	gosync "sync"
	"testing"
)

func TestProvisionFirstUse(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.SetTable("tbl-1", "Rollout")

	p, err := env.Engine.EnsureTasklist(env.Ctx, "base-1", "tbl-1", "Phase 1", "creator-u", "owner-u")
	if err != nil {
		t.Fatalf("ensure tasklist: %v", err)
	}
	if !p.Tasklist.Ready() {
		t.Fatalf("expected ready tasklist, got state %s", p.Tasklist.State)
	}
	if p.Tasklist.TasklistID == "" || p.Tasklist.CustomFieldID == "" || p.SectionID == "" {
		t.Fatalf("incomplete provisioning: %+v section=%s", p.Tasklist, p.SectionID)
	}
	if p.Tasklist.TasklistName != "Rollout" {
		t.Fatalf("expected tasklist named after table, got %q", p.Tasklist.TasklistName)
	}
	o := p.Tasklist.Options
	if o.NotStarted == "" || o.Ongoing == "" || o.Completed == "" || o.Stalled == "" {
		t.Fatalf("missing option guids: %+v", o)
	}

	stored, err := env.Ledger.FindTasklist(env.Ctx, "base-1", "tbl-1")
	if err != nil {
		t.Fatalf("find tasklist: %v", err)
	}
	if !stored.Ready() || stored.TasklistID != p.Tasklist.TasklistID {
		t.Fatalf("ledger row mismatch: %+v", stored)
	}
}

func TestProvisionConcurrentFirstUse(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.SetTable("tbl-1", "Rollout")

	const workers = 5
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg gosync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := env.Engine.EnsureTasklist(env.Ctx, "base-1", "tbl-1", "Phase 1", "creator-u", "owner-u")
			ids[i], errs[i] = p.Tasklist.TasklistID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("workers got different tasklists: %q vs %q", ids[i], ids[0])
		}
	}
	if n := env.Fake.CallCount("POST task/v2/tasklists"); n != 1 {
		t.Fatalf("expected exactly one tasklist creation, got %d", n)
	}
	if n := env.Fake.CallCount("POST task/v2/custom_fields"); n != 1 {
		t.Fatalf("expected exactly one custom field creation, got %d", n)
	}
}

func TestProvisionSectionPerPhase(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.SetTable("tbl-1", "Rollout")

	p1, err := env.Engine.EnsureTasklist(env.Ctx, "base-1", "tbl-1", "Phase 1", "u", "u")
	if err != nil {
		t.Fatalf("phase 1: %v", err)
	}
	p2, err := env.Engine.EnsureTasklist(env.Ctx, "base-1", "tbl-1", "Phase 2", "u", "u")
	if err != nil {
		t.Fatalf("phase 2: %v", err)
	}
	if p1.Tasklist.TasklistID != p2.Tasklist.TasklistID {
		t.Fatalf("phases must share a tasklist")
	}
	if p1.Tasklist.CustomFieldID != p2.Tasklist.CustomFieldID {
		t.Fatalf("phases must share the status field")
	}
	if p1.SectionID == p2.SectionID {
		t.Fatalf("distinct phases must get distinct sections")
	}

	again, err := env.Engine.EnsureTasklist(env.Ctx, "base-1", "tbl-1", "Phase 2", "u", "u")
	if err != nil {
		t.Fatalf("phase 2 again: %v", err)
	}
	if again.SectionID != p2.SectionID {
		t.Fatalf("repeated phase must reuse its section")
	}
	if n := env.Fake.CallCount("POST task/v2/sections"); n != 2 {
		t.Fatalf("expected two section creations, got %d", n)
	}

	sections, err := env.Ledger.ListSections(env.Ctx, "base-1", "tbl-1")
	if err != nil {
		t.Fatalf("list sections: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("expected 2 section rows, got %d", len(sections))
	}
}

func TestProvisionBlankPhase(t *testing.T) {
	env := newTestEnv(t)
	env.Fake.SetTable("tbl-1", "Rollout")

	p, err := env.Engine.EnsureTasklist(env.Ctx, "base-1", "tbl-1", "", "u", "u")
	if err != nil {
		t.Fatalf("ensure tasklist: %v", err)
	}
	sec, err := env.Ledger.FindSection(env.Ctx, "base-1", "tbl-1", "empty")
	if err != nil {
		t.Fatalf("find section: %v", err)
	}
	if sec.SectionID != p.SectionID {
		t.Fatalf("blank phase should land in the %q section", "empty")
	}
}
