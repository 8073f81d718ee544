package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
)

func TestStepRecordQueriesGuardLiveRows(t *testing.T) {
	if !strings.Contains(insertStepRecordQuery, "ON CONFLICT (project_id, stage) WHERE status = 'retry' DO NOTHING") {
		t.Fatalf("expected partial-index conflict clause in insert query")
	}
	if !strings.Contains(updateStepRecordQuery, "status = 'retry'") {
		t.Fatalf("expected live-row guard in update query")
	}
	if !strings.Contains(updateStepRecordQuery, "AND updated_at = $10") {
		t.Fatalf("expected optimistic timestamp guard in update query")
	}
	if !strings.Contains(insertStepRecordQuery, "input") || !strings.Contains(stepRecordColumns, "input") {
		t.Fatalf("expected input column to be persisted and selected")
	}
	if !strings.Contains(selectActiveStepRecordQuery, "status = 'retry'") {
		t.Fatalf("expected retry predicate in active select query")
	}
	if !strings.Contains(selectLatestStepRecordQuery, "ORDER BY created_at DESC") {
		t.Fatalf("expected newest-first ordering in latest select query")
	}
	if !strings.Contains(selectStepRecordQuery, "project_id = $1") {
		t.Fatalf("expected project_id predicate in select query")
	}
}

func TestStepRecordStoreNilDB(t *testing.T) {
	if NewStepRecordStore(nil) != nil {
		t.Fatal("nil db should yield nil store")
	}
	var store *StepRecordStore
	if err := store.Create(context.Background(), domain.StepRecord{}); err == nil {
		t.Fatal("nil store should error")
	}
	if _, err := store.GetActive(context.Background(), "proj-1", domain.StageDraft); err == nil {
		t.Fatal("nil store should error")
	}
	if _, err := store.Update(context.Background(), domain.StepRecord{}); err == nil {
		t.Fatal("nil store should error")
	}
}
