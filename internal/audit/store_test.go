package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"boss-office/internal/models"
)

func TestMemoryStoreAppendAssignsIDAndTimestamp(t *testing.T) {
	st := NewMemoryStore()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return fixed }
	ctx := context.Background()

	first, err := st.Append(ctx, models.NewAuditEntry{JobID: "job-1", ToStatus: models.StatusDraft, Actor: models.ActorSystem})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, _ := st.Append(ctx, models.NewAuditEntry{JobID: "job-1", FromStatus: models.StatusDraft, ToStatus: models.StatusSent, Actor: models.ActorSystem})

	if first.ID != "audit_1" || second.ID != "audit_2" {
		t.Fatalf("unexpected ids %s %s", first.ID, second.ID)
	}
	if !second.Timestamp.After(first.Timestamp) {
		t.Fatalf("expected strictly increasing timestamps with a frozen clock")
	}
}

func TestMemoryStoreQueryByJobIsolatesJobs(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	_, _ = st.Append(ctx, models.NewAuditEntry{JobID: "a", ToStatus: models.StatusDraft, Actor: models.ActorSystem})
	_, _ = st.Append(ctx, models.NewAuditEntry{JobID: "b", ToStatus: models.StatusDraft, Actor: models.ActorSystem})
	_, _ = st.Append(ctx, models.NewAuditEntry{JobID: "a", FromStatus: models.StatusDraft, ToStatus: models.StatusSent, Actor: models.ActorSystem})

	got, err := st.QueryByJob(ctx, "a")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ToStatus != models.StatusDraft || got[1].ToStatus != models.StatusSent {
		t.Fatalf("unexpected entries %+v", got)
	}

	got[0].Note = "tampered"
	again, _ := st.QueryByJob(ctx, "a")
	if again[0].Note != "" {
		t.Fatalf("query result aliases stored entries")
	}

	if ok, _ := st.ExistsForJob(ctx, "a"); !ok {
		t.Fatalf("expected history for a")
	}
	if ok, _ := st.ExistsForJob(ctx, "missing"); ok {
		t.Fatalf("expected no history for missing job")
	}
}

func TestMemoryStoreConcurrentAppendsKeepUniqueIDs(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.Append(ctx, models.NewAuditEntry{JobID: "job", ToStatus: models.StatusDraft, Actor: models.ActorSystem})
		}()
	}
	wg.Wait()

	entries, _ := st.QueryByJob(ctx, "job")
	seen := map[string]bool{}
	for i, e := range entries {
		if seen[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		seen[e.ID] = true
		if i > 0 && !e.Timestamp.After(entries[i-1].Timestamp) {
			t.Fatalf("timestamps out of insertion order at %d", i)
		}
	}
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries got %d", len(entries))
	}
}
