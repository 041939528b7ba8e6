package cascade

import (
	"context"
	"testing"

	"github.com/tmarbach/daybook/pkg/ledger"
	"github.com/tmarbach/daybook/pkg/record"
	"github.com/tmarbach/daybook/pkg/store"
)

type fixture struct {
	store  *store.MemoryStore
	ledger *ledger.Ledger
	orch   *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	l := ledger.New(store.NewMemoryKV(), nil)
	return &fixture{store: s, ledger: l, orch: New(s, l, nil)}
}

func (f *fixture) put(t *testing.T, kind record.Kind, id string, payload any, ts int64) {
	t.Helper()
	rec, err := record.New(kind, id, payload, ts)
	if err != nil {
		t.Fatalf("record.New failed: %v", err)
	}
	if err := f.store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}

// TestDeleteEntry_CascadeCompleteness covers the full cascade: an entry
// with one derived insight and a tag it is the sole source of. All three
// records go, and three tombstones are ledgered.
func TestDeleteEntry_CascadeCompleteness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, record.KindEntry, "e1", &record.EntryPayload{Text: "day one", Timestamp: 10}, 10)
	f.put(t, record.KindInsight, "i1", &record.InsightPayload{EntryID: "e1", Summary: "calm"}, 20)
	f.put(t, record.KindTag, "t1", &record.TagPayload{Name: "calm", EntryIDs: []string{"e1"}}, 30)

	res, err := f.orch.DeleteEntry(ctx, "e1", 100)
	if err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	if res.EntriesDeleted != 1 || res.InsightsDeleted != 1 || res.TagsDeleted != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Tombstones != 3 {
		t.Errorf("Tombstones: got %d, want 3", res.Tombstones)
	}

	for _, probe := range []struct {
		kind record.Kind
		id   string
	}{
		{record.KindEntry, "e1"},
		{record.KindInsight, "i1"},
		{record.KindTag, "t1"},
	} {
		if _, err := f.store.Get(ctx, probe.kind, probe.id); err != store.ErrRecordNotFound {
			t.Errorf("%s/%s still present after cascade", probe.kind, probe.id)
		}
		ts, err := f.ledger.Get(ctx, probe.kind, probe.id)
		if err != nil {
			t.Fatalf("ledger Get failed: %v", err)
		}
		if ts == nil {
			t.Errorf("no tombstone for %s/%s", probe.kind, probe.id)
		} else if ts.LastModified != 100 {
			t.Errorf("tombstone %s/%s timestamp: got %d, want 100", probe.kind, probe.id, ts.LastModified)
		}
	}
}

// TestDeleteEntry_SharedTagIsReduced covers a tag sourced by two entries:
// the deleted entry is detached, the tag survives with a bumped timestamp.
func TestDeleteEntry_SharedTagIsReduced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, record.KindEntry, "e1", &record.EntryPayload{Text: "one", Timestamp: 10}, 10)
	f.put(t, record.KindEntry, "e2", &record.EntryPayload{Text: "two", Timestamp: 11}, 11)
	f.put(t, record.KindTag, "t1", &record.TagPayload{Name: "shared", EntryIDs: []string{"e1", "e2"}}, 50)

	res, err := f.orch.DeleteEntry(ctx, "e1", 100)
	if err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if res.TagsUpdated != 1 || res.TagsDeleted != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	tag, err := f.store.Get(ctx, record.KindTag, "t1")
	if err != nil {
		t.Fatalf("tag should survive: %v", err)
	}
	p, err := tag.DecodeTag()
	if err != nil {
		t.Fatalf("DecodeTag failed: %v", err)
	}
	if len(p.EntryIDs) != 1 || p.EntryIDs[0] != "e2" {
		t.Errorf("EntryIDs: got %v, want [e2]", p.EntryIDs)
	}
	if tag.LastModified <= 50 {
		t.Errorf("tag LastModified not bumped: %d", tag.LastModified)
	}

	// The surviving tag must not be tombstoned.
	ts, _ := f.ledger.Get(ctx, record.KindTag, "t1")
	if ts != nil {
		t.Error("surviving tag must not have a tombstone")
	}
}

// TestDeleteEntry_TagBumpStaysMonotonic covers a tag whose stored timestamp
// is already ahead of the deletion timestamp.
func TestDeleteEntry_TagBumpStaysMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, record.KindEntry, "e1", &record.EntryPayload{Text: "one", Timestamp: 10}, 10)
	f.put(t, record.KindTag, "t1", &record.TagPayload{Name: "ahead", EntryIDs: []string{"e1", "e2"}}, 500)

	if _, err := f.orch.DeleteEntry(ctx, "e1", 100); err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}

	tag, err := f.store.Get(ctx, record.KindTag, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tag.LastModified <= 500 {
		t.Errorf("tag LastModified must exceed stored copy, got %d", tag.LastModified)
	}
	p, _ := tag.DecodeTag()
	if len(p.EntryIDs) != 1 || p.EntryIDs[0] != "e2" {
		t.Errorf("EntryIDs: got %v, want [e2]", p.EntryIDs)
	}
}

// TestDeleteRecord_NonEntry covers the simple tombstone+delete path.
func TestDeleteRecord_NonEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, record.KindInsight, "i1", &record.InsightPayload{EntryID: "e9", Summary: "s"}, 10)

	if err := f.orch.DeleteRecord(ctx, record.KindInsight, "i1", 40); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if _, err := f.store.Get(ctx, record.KindInsight, "i1"); err != store.ErrRecordNotFound {
		t.Error("insight still present")
	}
	ts, _ := f.ledger.Get(ctx, record.KindInsight, "i1")
	if ts == nil || ts.LastModified != 40 {
		t.Errorf("tombstone missing or wrong: %+v", ts)
	}
}

// TestDeleteRecord_EntryRoutesThroughCascade verifies entry kind cannot
// bypass the cascade rules.
func TestDeleteRecord_EntryRoutesThroughCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.put(t, record.KindEntry, "e1", &record.EntryPayload{Text: "x", Timestamp: 1}, 1)
	f.put(t, record.KindInsight, "i1", &record.InsightPayload{EntryID: "e1", Summary: "s"}, 2)

	if err := f.orch.DeleteRecord(ctx, record.KindEntry, "e1", 50); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if _, err := f.store.Get(ctx, record.KindInsight, "i1"); err != store.ErrRecordNotFound {
		t.Error("cascade did not remove the derived insight")
	}
}
