package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskbridge/internal/domain"
	"taskbridge/internal/ledger"
	"taskbridge/internal/suite"
)

const (
	claimAttempts = 5
	claimBackoff  = 100 * time.Millisecond
)

// Provisioned is everything the forward synchronizer needs to place a task:
// the ready tasklist row and the section for the requested phase.
type Provisioned struct {
	Tasklist  domain.Tasklist
	SectionID string
}

// EnsureTasklist returns the tasklist, status field, and phase section for
// (base, table), creating any missing piece on first use.
//
// First use races are settled through the ledger, not locks: a pending claim
// row is inserted before any external call, so a concurrent loser hits the
// uniqueness constraint, backs off, and re-reads the winner's row. If the
// external calls succeed but the follow-up fill fails, the claim is released
// so a later attempt is not blocked by a broken placeholder.
func (e Engine) EnsureTasklist(ctx context.Context, baseID, tableID, phase, creatorID, ownerID string) (Provisioned, error) {
	if phase == "" {
		phase = "empty"
	}
	for attempt := 0; attempt < claimAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Provisioned{}, ctx.Err()
			case <-time.After(claimBackoff << attempt):
			}
		}
		tl, err := e.Ledger.FindTasklist(ctx, baseID, tableID)
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			prov, retry, err := e.provisionTasklist(ctx, baseID, tableID, phase, creatorID, ownerID)
			if retry {
				continue
			}
			return prov, err
		case err != nil:
			return Provisioned{}, fmt.Errorf("find tasklist mapping: %w", err)
		case !tl.Ready():
			// A concurrent request holds the claim; wait for its fill.
			continue
		default:
			secID, err := e.ensureSection(ctx, tl, phase)
			if err != nil {
				return Provisioned{}, err
			}
			return Provisioned{Tasklist: tl, SectionID: secID}, nil
		}
	}
	return Provisioned{}, fmt.Errorf("tasklist provisioning for %s/%s did not settle after %d attempts", baseID, tableID, claimAttempts)
}

// provisionTasklist claims (base, table) and creates the external entities.
// retry=true means the claim collided with a concurrent winner and the caller
// should re-read.
func (e Engine) provisionTasklist(ctx context.Context, baseID, tableID, phase, creatorID, ownerID string) (Provisioned, bool, error) {
	if err := e.Ledger.ClaimTasklist(ctx, baseID, tableID, e.now()); err != nil {
		if ledger.IsConflict(err) {
			return Provisioned{}, true, nil
		}
		return Provisioned{}, false, fmt.Errorf("claim tasklist mapping: %w", err)
	}

	release := func(cause error) error {
		if rerr := e.Ledger.ReleaseTasklist(ctx, baseID, tableID); rerr != nil {
			e.log().WithError(rerr).WithFields(map[string]any{
				"base_id": baseID, "table_id": tableID,
			}).Error("release tasklist claim")
		}
		return cause
	}

	name, err := e.Suite.TableName(ctx, baseID, tableID)
	if err != nil {
		return Provisioned{}, false, release(fmt.Errorf("resolve table name: %w", err))
	}
	members := []suite.Member{suite.UserMember(creatorID, "viewer")}
	if ownerID != "" && ownerID != creatorID {
		members = append(members, suite.UserMember(ownerID, "viewer"))
	}
	created, err := e.Suite.CreateTasklist(ctx, name, members)
	if err != nil {
		return Provisioned{}, false, release(fmt.Errorf("create tasklist: %w", err))
	}
	fieldID, options, err := e.Suite.CreateStatusField(ctx, created.GUID)
	if err != nil {
		return Provisioned{}, false, release(fmt.Errorf("create status field: %w", err))
	}
	section, err := e.Suite.CreateSection(ctx, phase, created.GUID)
	if err != nil {
		return Provisioned{}, false, release(fmt.Errorf("create section: %w", err))
	}

	tl := domain.Tasklist{
		BaseID:        baseID,
		TableID:       tableID,
		TasklistID:    created.GUID,
		TasklistName:  name,
		CustomFieldID: fieldID,
		Options:       options,
		State:         domain.TasklistReady,
	}
	if err := e.Ledger.FillTasklist(ctx, tl); err != nil {
		return Provisioned{}, false, release(fmt.Errorf("fill tasklist mapping: %w", err))
	}
	if err := e.Ledger.InsertSection(ctx, domain.Section{
		BaseID: baseID, TableID: tableID, Name: phase, SectionID: section.GUID,
	}, e.now()); err != nil && !ledger.IsConflict(err) {
		return Provisioned{}, false, fmt.Errorf("insert section mapping: %w", err)
	}
	e.audit(ctx, "tasklist.provisioned", baseID, tableID, "", "", map[string]any{
		"tasklist_id": created.GUID, "custom_field_id": fieldID, "section": phase,
	})
	return Provisioned{Tasklist: tl, SectionID: section.GUID}, false, nil
}

// ensureSection returns the section id for a phase, creating the section
// under the existing tasklist when it has not been seen before. The stored
// field/option ids are reused: all phases of a table share one custom field.
func (e Engine) ensureSection(ctx context.Context, tl domain.Tasklist, phase string) (string, error) {
	sec, err := e.Ledger.FindSection(ctx, tl.BaseID, tl.TableID, phase)
	if err == nil {
		return sec.SectionID, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return "", fmt.Errorf("find section mapping: %w", err)
	}
	created, err := e.Suite.CreateSection(ctx, phase, tl.TasklistID)
	if err != nil {
		return "", fmt.Errorf("create section: %w", err)
	}
	err = e.Ledger.InsertSection(ctx, domain.Section{
		BaseID: tl.BaseID, TableID: tl.TableID, Name: phase, SectionID: created.GUID,
	}, e.now())
	if err != nil {
		if ledger.IsConflict(err) {
			// Concurrent request recorded the phase first; its section wins.
			sec, err := e.Ledger.FindSection(ctx, tl.BaseID, tl.TableID, phase)
			if err != nil {
				return "", fmt.Errorf("re-read section mapping: %w", err)
			}
			return sec.SectionID, nil
		}
		return "", fmt.Errorf("insert section mapping: %w", err)
	}
	e.audit(ctx, "section.provisioned", tl.BaseID, tl.TableID, "", "", map[string]any{
		"section": phase, "section_id": created.GUID,
	})
	return created.GUID, nil
}
