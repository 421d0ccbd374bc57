package indexer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/soroban"
	"github.com/AshFrancis/zkvote-relayer/store"
)

type fakeChain struct {
	latest    uint32
	latestErr error

	events    map[string][]soroban.RawEvent
	eventsErr error

	txs     map[string]*soroban.TxStatus
	pollErr error

	eventCalls int
	pollCalls  int
}

func (f *fakeChain) LatestLedger(ctx context.Context) (uint32, error) {
	return f.latest, f.latestErr
}

func (f *fakeChain) GetEvents(ctx context.Context, contractIDs []string, start, end uint32, limit int) ([]soroban.RawEvent, error) {
	f.eventCalls++
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events[contractIDs[0]], nil
}

func (f *fakeChain) PollTx(ctx context.Context, hash string) (*soroban.TxStatus, error) {
	f.pollCalls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if status, ok := f.txs[hash]; ok {
		return status, nil
	}
	return &soroban.TxStatus{State: soroban.TxNotFound}, nil
}

type fakeRefresher struct {
	refreshed []uint64
}

func (f *fakeRefresher) RefreshMember(ctx context.Context, orgID uint64) {
	f.refreshed = append(f.refreshed, orgID)
}

func newTestIndexer(t *testing.T, chain ChainClient) (*Indexer, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "relayer.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open returned error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, chain, []string{"CONTRACT_A"}, time.Second, nil, zap.NewNop()), st
}

func hash(c byte) string {
	return strings.Repeat(string(c), 64)
}

func TestPollIngestsAndAdvancesWatermark(t *testing.T) {
	chain := &fakeChain{
		latest: 120,
		events: map[string][]soroban.RawEvent{
			"CONTRACT_A": {
				{
					ContractID: "CONTRACT_A",
					TxHash:     hash('a'),
					Ledger:     110,
					Topics:     []xdr.ScVal{soroban.SymbolVal("vote_cast"), soroban.U64Val(1)},
					Value:      soroban.U64Val(7),
				},
				{
					ContractID: "CONTRACT_A",
					TxHash:     hash('b'),
					Ledger:     115,
					Topics:     []xdr.ScVal{soroban.SymbolVal("treasury_moved"), soroban.U64Val(2)},
				},
			},
		},
	}
	ix, st := newTestIndexer(t, chain)
	ctx := context.Background()

	if err := ix.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce returned error: %v", err)
	}

	events, _, err := st.ListEvents(ctx, 1, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("org 1 has %d events, want 1", len(events))
	}
	if events[0].Kind != store.KindVoteCast {
		t.Errorf("kind = %q, want translated %q", events[0].Kind, store.KindVoteCast)
	}
	if !events[0].Verified {
		t.Error("chain-polled event not verified")
	}

	// Unknown symbols are kept verbatim instead of dropped.
	events, _, _ = st.ListEvents(ctx, 2, store.ListOptions{})
	if len(events) != 1 || events[0].Kind != "treasury_moved" {
		t.Errorf("unknown-kind event = %+v, want one treasury_moved row", events)
	}

	if got := ix.watermark.Load(); got != 120 {
		t.Errorf("watermark = %d, want 120", got)
	}
	value, ok, _ := st.GetMeta(ctx, watermarkKey)
	if !ok || value != "120" {
		t.Errorf("persisted watermark = %q (ok=%v), want 120", value, ok)
	}

	// A regressed chain head must never move the watermark backward.
	chain.latest = 100
	if err := ix.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce returned error: %v", err)
	}
	if got := ix.watermark.Load(); got != 120 {
		t.Errorf("watermark regressed to %d", got)
	}

	// Re-polling the same window is idempotent.
	chain.latest = 125
	if err := ix.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce returned error: %v", err)
	}
	n, _ := st.EventsCount(ctx)
	if n != 2 {
		t.Errorf("EventsCount = %d after re-poll, want 2", n)
	}
}

func TestPollKeepsWatermarkOnError(t *testing.T) {
	chain := &fakeChain{latest: 50, eventsErr: errors.New("rpc unavailable")}
	ix, st := newTestIndexer(t, chain)
	ctx := context.Background()

	if err := ix.pollOnce(ctx); err == nil {
		t.Fatal("pollOnce succeeded despite RPC failure")
	}
	if got := ix.watermark.Load(); got != 0 {
		t.Errorf("watermark advanced to %d on failure", got)
	}
	if _, ok, _ := st.GetMeta(ctx, watermarkKey); ok {
		t.Error("watermark persisted despite failed poll")
	}
}

func TestPollSuppressesContractNotFound(t *testing.T) {
	chain := &fakeChain{latest: 60, eventsErr: errors.New("contract not found")}
	ix, _ := newTestIndexer(t, chain)

	if err := ix.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce returned error: %v", err)
	}
	if got := ix.watermark.Load(); got != 60 {
		t.Errorf("watermark = %d, want 60", got)
	}
}

func TestVerifyPromotesConfirmedEvents(t *testing.T) {
	txHash := hash('c')
	chain := &fakeChain{
		txs: map[string]*soroban.TxStatus{
			txHash: {State: soroban.TxSuccess, Ledger: 77},
		},
	}
	ix, st := newTestIndexer(t, chain)
	refresher := &fakeRefresher{}
	ix.SetRefresher(refresher)
	ctx := context.Background()

	if err := ix.NotifyEvent(ctx, 3, store.KindMemberAdd, map[string]any{"member": "GABC"}, txHash); err != nil {
		t.Fatalf("NotifyEvent returned error: %v", err)
	}

	if err := ix.verifyOnce(ctx); err != nil {
		t.Fatalf("verifyOnce returned error: %v", err)
	}

	events, _, _ := st.ListEvents(ctx, 3, store.ListOptions{})
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if !events[0].Verified {
		t.Error("event not promoted to verified")
	}
	if events[0].Ledger == nil || *events[0].Ledger != 77 {
		t.Errorf("ledger = %v, want 77", events[0].Ledger)
	}
	if len(refresher.refreshed) != 1 || refresher.refreshed[0] != 3 {
		t.Errorf("membership refresh triggers = %v, want [3]", refresher.refreshed)
	}
}

func TestVerifyDeletesFailedEvents(t *testing.T) {
	txHash := hash('d')
	chain := &fakeChain{
		txs: map[string]*soroban.TxStatus{
			txHash: {State: soroban.TxFailed, Reason: "txFailed"},
		},
	}
	ix, st := newTestIndexer(t, chain)
	ctx := context.Background()

	if err := ix.NotifyEvent(ctx, 1, store.KindVoteCast, nil, txHash); err != nil {
		t.Fatalf("NotifyEvent returned error: %v", err)
	}
	if err := ix.verifyOnce(ctx); err != nil {
		t.Fatalf("verifyOnce returned error: %v", err)
	}

	n, _ := st.EventsCount(ctx)
	if n != 0 {
		t.Errorf("EventsCount = %d after failed tx, want 0", n)
	}
}

func TestVerifyLeavesUnknownEvents(t *testing.T) {
	txHash := hash('e')
	chain := &fakeChain{}
	ix, st := newTestIndexer(t, chain)
	ctx := context.Background()

	if err := ix.NotifyEvent(ctx, 1, store.KindVoteCast, nil, txHash); err != nil {
		t.Fatalf("NotifyEvent returned error: %v", err)
	}
	if err := ix.verifyOnce(ctx); err != nil {
		t.Fatalf("verifyOnce returned error: %v", err)
	}

	pending, _ := st.ListUnverified(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("pending rows = %d, want 1 kept for the next tick", len(pending))
	}
}

func TestNotifyEventValidatesHash(t *testing.T) {
	ix, _ := newTestIndexer(t, &fakeChain{})
	ctx := context.Background()

	for _, bad := range []string{"", "abc", strings.Repeat("a", 63), strings.Repeat("z", 64)} {
		if err := ix.NotifyEvent(ctx, 1, store.KindVoteCast, nil, bad); err == nil {
			t.Errorf("NotifyEvent accepted hash %q", bad)
		}
	}
}

func TestNotifyEventAbsorbsKnownHash(t *testing.T) {
	txHash := hash('f')
	ix, st := newTestIndexer(t, &fakeChain{})
	ctx := context.Background()

	ledger := uint32(90)
	if _, err := st.AddEvent(ctx, store.KindVoteCast, 1, nil, &ledger, txHash, true); err != nil {
		t.Fatalf("AddEvent returned error: %v", err)
	}

	// The poll already ingested this tx; the client notification is a no-op
	// success.
	if err := ix.NotifyEvent(ctx, 1, store.KindVoteCast, nil, txHash); err != nil {
		t.Fatalf("NotifyEvent returned error: %v", err)
	}

	n, _ := st.EventsCount(ctx)
	if n != 1 {
		t.Errorf("EventsCount = %d, want 1", n)
	}
	events, _, _ := st.ListEvents(ctx, 1, store.ListOptions{})
	if !events[0].Verified {
		t.Error("verified row was downgraded by notify")
	}
}

func TestAddManualEvent(t *testing.T) {
	ix, st := newTestIndexer(t, &fakeChain{})
	ctx := context.Background()

	txHash, err := ix.AddManualEvent(ctx, 4, store.KindProposalClose, map[string]any{"operator": true})
	if err != nil {
		t.Fatalf("AddManualEvent returned error: %v", err)
	}
	if !strings.HasPrefix(txHash, "manual:") {
		t.Errorf("manual hash = %q, want manual: prefix", txHash)
	}

	events, _, _ := st.ListEvents(ctx, 4, store.ListOptions{})
	if len(events) != 1 || !events[0].Verified {
		t.Fatalf("manual event = %+v, want one verified row", events)
	}
}
