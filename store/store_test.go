package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "relayer.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ledgerPtr(l uint32) *uint32 { return &l }

func TestAddEventDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.AddEvent(ctx, "vote-cast", 1, nil, ledgerPtr(100), "hashA", true)
	if err != nil {
		t.Fatalf("AddEvent returned error: %v", err)
	}
	if !inserted {
		t.Fatal("first AddEvent reported duplicate")
	}

	// Identical (tx_hash, kind, org_id) must be absorbed.
	inserted, err = s.AddEvent(ctx, "vote-cast", 1, nil, ledgerPtr(101), "hashA", true)
	if err != nil {
		t.Fatalf("duplicate AddEvent returned error: %v", err)
	}
	if inserted {
		t.Error("duplicate AddEvent reported inserted")
	}

	// Same tx hash under a different kind or org is a distinct event.
	if inserted, _ = s.AddEvent(ctx, "comment-add", 1, nil, ledgerPtr(100), "hashA", true); !inserted {
		t.Error("same hash with different kind was deduplicated")
	}
	if inserted, _ = s.AddEvent(ctx, "vote-cast", 2, nil, ledgerPtr(100), "hashA", true); !inserted {
		t.Error("same hash with different org was deduplicated")
	}

	n, err := s.EventsCount(ctx)
	if err != nil {
		t.Fatalf("EventsCount returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("EventsCount = %d, want 3", n)
	}

	events, total, err := s.ListEvents(ctx, 1, ListOptions{Kinds: []string{"vote-cast"}})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("ListEvents returned %d rows (total %d), want 1", len(events), total)
	}
	if got := events[0].Ledger; got == nil || *got != 100 {
		t.Errorf("surviving row has ledger %v, want 100 from the first insert", got)
	}
}

func TestPendingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddPendingEvent(ctx, 1, "member-add", map[string]any{"member": "GABC"}, "hashP"); err != nil {
		t.Fatalf("AddPendingEvent returned error: %v", err)
	}

	pending, err := s.ListUnverified(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnverified returned error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("ListUnverified returned %d rows, want 1", len(pending))
	}
	if pending[0].Verified {
		t.Error("pending event is marked verified")
	}
	if pending[0].Ledger != nil {
		t.Errorf("pending event has ledger %d, want none", *pending[0].Ledger)
	}

	t.Run("promote", func(t *testing.T) {
		if err := s.MarkVerified(ctx, "hashP", 77); err != nil {
			t.Fatalf("MarkVerified returned error: %v", err)
		}
		left, _ := s.ListUnverified(ctx, 10)
		if len(left) != 0 {
			t.Errorf("ListUnverified returned %d rows after promotion, want 0", len(left))
		}
		events, _, err := s.ListEvents(ctx, 1, ListOptions{})
		if err != nil {
			t.Fatalf("ListEvents returned error: %v", err)
		}
		if len(events) != 1 || !events[0].Verified {
			t.Fatal("promoted event is not verified")
		}
		if events[0].Ledger == nil || *events[0].Ledger != 77 {
			t.Errorf("promoted event ledger = %v, want 77", events[0].Ledger)
		}
	})

	t.Run("delete failed", func(t *testing.T) {
		if _, err := s.AddPendingEvent(ctx, 1, "member-revoke", nil, "hashF"); err != nil {
			t.Fatalf("AddPendingEvent returned error: %v", err)
		}
		if err := s.DeletePending(ctx, "hashF"); err != nil {
			t.Fatalf("DeletePending returned error: %v", err)
		}
		_, total, err := s.ListEvents(ctx, 1, ListOptions{Kinds: []string{"member-revoke"}})
		if err != nil {
			t.Fatalf("ListEvents returned error: %v", err)
		}
		if total != 0 {
			t.Errorf("failed pending event still present, total = %d", total)
		}
	})

	t.Run("delete leaves verified rows", func(t *testing.T) {
		if err := s.DeletePending(ctx, "hashP"); err != nil {
			t.Fatalf("DeletePending returned error: %v", err)
		}
		_, total, _ := s.ListEvents(ctx, 1, ListOptions{Kinds: []string{"member-add"}})
		if total != 1 {
			t.Errorf("DeletePending removed a verified row, total = %d", total)
		}
	})
}

func TestListEventsOrderAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two events share ledger 7; the later insert (higher id) must sort first.
	inserts := []struct {
		kind   string
		ledger uint32
		hash   string
	}{
		{"proposal-create", 5, "h5"},
		{"vote-cast", 7, "h7a"},
		{"vote-cast", 7, "h7b"},
		{"proposal-close", 9, "h9"},
	}
	for _, in := range inserts {
		if _, err := s.AddEvent(ctx, in.kind, 1, nil, ledgerPtr(in.ledger), in.hash, true); err != nil {
			t.Fatalf("AddEvent(%s) returned error: %v", in.hash, err)
		}
	}

	events, total, err := s.ListEvents(ctx, 1, ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if total != 4 {
		t.Errorf("total = %d, want 4", total)
	}
	wantOrder := []string{"h9", "h7b", "h7a", "h5"}
	for i, want := range wantOrder {
		if events[i].TxHash != want {
			t.Errorf("events[%d] = %s, want %s", i, events[i].TxHash, want)
		}
	}

	t.Run("offset", func(t *testing.T) {
		page, total, err := s.ListEvents(ctx, 1, ListOptions{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("ListEvents returned error: %v", err)
		}
		if total != 4 || len(page) != 2 {
			t.Fatalf("page = %d rows (total %d), want 2 rows (total 4)", len(page), total)
		}
		if page[0].TxHash != "h7b" || page[1].TxHash != "h7a" {
			t.Errorf("page = [%s %s], want [h7b h7a]", page[0].TxHash, page[1].TxHash)
		}
	})

	t.Run("kind filter", func(t *testing.T) {
		page, total, err := s.ListEvents(ctx, 1, ListOptions{Kinds: []string{"vote-cast", "proposal-close"}})
		if err != nil {
			t.Fatalf("ListEvents returned error: %v", err)
		}
		if total != 3 || len(page) != 3 {
			t.Errorf("filtered total = %d (%d rows), want 3", total, len(page))
		}
	})

	t.Run("unknown org", func(t *testing.T) {
		page, total, err := s.ListEvents(ctx, 42, ListOptions{})
		if err != nil {
			t.Fatalf("ListEvents returned error: %v", err)
		}
		if total != 0 || len(page) != 0 {
			t.Errorf("unknown org returned %d rows (total %d)", len(page), total)
		}
	})
}

func TestListEventsLimitCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		hash := fmt.Sprintf("hash%03d", i)
		if _, err := s.AddEvent(ctx, "vote-cast", 3, nil, ledgerPtr(uint32(i+1)), hash, true); err != nil {
			t.Fatalf("AddEvent(%s) returned error: %v", hash, err)
		}
	}

	events, total, err := s.ListEvents(ctx, 3, ListOptions{Limit: 200})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if total != 120 {
		t.Errorf("total = %d, want 120", total)
	}
	if len(events) != maxListLimit {
		t.Errorf("limit 200 returned %d rows, want cap %d", len(events), maxListLimit)
	}

	events, _, err = s.ListEvents(ctx, 3, ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != defaultListLimit {
		t.Errorf("zero limit returned %d rows, want default %d", len(events), defaultListLimit)
	}
}

func TestEventIDsMonotone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.AddEvent(ctx, "vote-cast", 1, nil, ledgerPtr(50), fmt.Sprintf("h%d", i), true); err != nil {
			t.Fatalf("AddEvent returned error: %v", err)
		}
	}

	events, _, err := s.ListEvents(ctx, 1, ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	// Same ledger, so newest-first means strictly descending ids.
	for i := 1; i < len(events); i++ {
		if events[i].ID >= events[i-1].ID {
			t.Fatalf("ids not strictly monotone: %d then %d", events[i-1].ID, events[i].ID)
		}
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := map[string]any{
		"proposal_id": float64(7),
		"choice":      true,
		"synthetic":   false,
		"note":        "first",
	}
	if _, err := s.AddEvent(ctx, "vote-cast", 1, payload, ledgerPtr(10), "hashJ", true); err != nil {
		t.Fatalf("AddEvent returned error: %v", err)
	}

	events, _, err := s.ListEvents(ctx, 1, ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("ListEvents returned %d rows, want 1", len(events))
	}
	got := events[0].Payload
	if got["proposal_id"] != float64(7) || got["choice"] != true || got["note"] != "first" {
		t.Errorf("payload round trip = %#v, want original values", got)
	}
}

func TestOrgs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orgs := []Org{
		{ID: 1, Name: "alpha", Admin: "GAAA", OpenMembership: true, MetadataRef: "ipfs://a", MemberCount: 3},
		{ID: 2, Name: "beta", Admin: "GBBB", MembersCanPropose: true, MemberCount: 1},
		{ID: 3, Name: "gamma", Admin: "GCCC"},
	}
	if err := s.UpsertOrgs(ctx, orgs); err != nil {
		t.Fatalf("UpsertOrgs returned error: %v", err)
	}

	n, err := s.OrgsCount(ctx)
	if err != nil {
		t.Fatalf("OrgsCount returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("OrgsCount = %d, want 3", n)
	}

	org, err := s.GetOrg(ctx, 2)
	if err != nil {
		t.Fatalf("GetOrg returned error: %v", err)
	}
	if org == nil {
		t.Fatal("GetOrg(2) = nil, want row")
	}
	if org.Name != "beta" || !org.MembersCanPropose || org.OpenMembership {
		t.Errorf("GetOrg(2) = %+v, want beta with members_can_propose", org)
	}
	if org.UpdatedAt.IsZero() {
		t.Error("GetOrg(2) has zero updated_at")
	}

	missing, err := s.GetOrg(ctx, 99)
	if err != nil {
		t.Fatalf("GetOrg(99) returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("GetOrg(99) = %+v, want nil", missing)
	}

	// Upsert must replace, not duplicate.
	if err := s.UpsertOrg(ctx, Org{ID: 2, Name: "beta-renamed", Admin: "GBBB", MemberCount: 4}); err != nil {
		t.Fatalf("UpsertOrg returned error: %v", err)
	}
	org, _ = s.GetOrg(ctx, 2)
	if org.Name != "beta-renamed" || org.MemberCount != 4 {
		t.Errorf("after upsert GetOrg(2) = %+v, want renamed row", org)
	}

	list, err := s.ListOrgs(ctx)
	if err != nil {
		t.Fatalf("ListOrgs returned error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListOrgs returned %d rows, want 3", len(list))
	}
	for i, want := range []uint64{1, 2, 3} {
		if list[i].ID != want {
			t.Errorf("ListOrgs[%d].ID = %d, want %d", i, list[i].ID, want)
		}
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetMeta(ctx, "last_ledger")
	if err != nil {
		t.Fatalf("GetMeta returned error: %v", err)
	}
	if ok {
		t.Error("GetMeta on empty store reported a value")
	}

	if err := s.SetMeta(ctx, "last_ledger", "12345"); err != nil {
		t.Fatalf("SetMeta returned error: %v", err)
	}
	v, ok, err := s.GetMeta(ctx, "last_ledger")
	if err != nil {
		t.Fatalf("GetMeta returned error: %v", err)
	}
	if !ok || v != "12345" {
		t.Errorf("GetMeta = (%q, %v), want (12345, true)", v, ok)
	}

	if err := s.SetMeta(ctx, "last_ledger", "12350"); err != nil {
		t.Fatalf("SetMeta overwrite returned error: %v", err)
	}
	v, _, _ = s.GetMeta(ctx, "last_ledger")
	if v != "12350" {
		t.Errorf("GetMeta after overwrite = %q, want 12350", v)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayer.db")

	s, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	ctx := context.Background()
	if _, err := s.AddEvent(ctx, "organization-create", 1, nil, ledgerPtr(0), "synthetic:org:1", true); err != nil {
		t.Fatalf("AddEvent returned error: %v", err)
	}
	if err := s.SetMeta(ctx, "last_ledger", "99"); err != nil {
		t.Fatalf("SetMeta returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	s2, err := Open(path, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	defer s2.Close()

	n, _ := s2.EventsCount(ctx)
	if n != 1 {
		t.Errorf("EventsCount after reopen = %d, want 1", n)
	}
	v, ok, _ := s2.GetMeta(ctx, "last_ledger")
	if !ok || v != "99" {
		t.Errorf("GetMeta after reopen = (%q, %v), want (99, true)", v, ok)
	}

	// Synthetic events keep ledger 0 distinct from pending (no ledger).
	events, _, err := s2.ListEvents(ctx, 1, ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if events[0].Ledger == nil || *events[0].Ledger != 0 {
		t.Errorf("synthetic event ledger = %v, want 0", events[0].Ledger)
	}
}
