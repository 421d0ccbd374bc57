// Package indexer maintains the local materialized event log. A poll loop
// ingests contract events from the chain behind a persisted ledger
// watermark; a verify loop confirms client-notified transactions against the
// chain and promotes or deletes them. Both run on the same ticker.
package indexer

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/metrics"
	"github.com/AshFrancis/zkvote-relayer/soroban"
	"github.com/AshFrancis/zkvote-relayer/store"
)

const (
	// watermarkKey is the metadata row holding the last fully polled ledger.
	watermarkKey = "last_ledger"
	// verifyBatchSize bounds how many pending events one tick confirms.
	verifyBatchSize = 10
)

// ChainClient is the chain surface the indexer consumes.
type ChainClient interface {
	LatestLedger(ctx context.Context) (uint32, error)
	GetEvents(ctx context.Context, contractIDs []string, startLedger, endLedger uint32, limit int) ([]soroban.RawEvent, error)
	PollTx(ctx context.Context, hash string) (*soroban.TxStatus, error)
}

// MembershipRefresher receives refresh triggers when a membership-mutating
// event is verified. Wired to the syncer by the orchestrator.
type MembershipRefresher interface {
	RefreshMember(ctx context.Context, orgID uint64)
}

// Status is a point-in-time indexer snapshot for the health surface.
type Status struct {
	Running     bool   `json:"running"`
	Watermark   uint32 `json:"watermark"`
	TotalEvents int64  `json:"total_events"`
	OrgCount    int64  `json:"org_count"`
}

// Indexer owns the poll and verify loops and the notify entry points.
type Indexer struct {
	store     *store.Store
	chain     ChainClient
	contracts []string
	interval  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics

	refresher MembershipRefresher

	running   atomic.Bool
	watermark atomic.Uint32
}

// New builds an indexer watching the given contract ids.
func New(st *store.Store, chain ChainClient, contracts []string, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Indexer {
	return &Indexer{
		store:     st,
		chain:     chain,
		contracts: contracts,
		interval:  interval,
		metrics:   m,
		logger:    logger.With(zap.String("component", "indexer")),
	}
}

// SetRefresher wires the membership refresh trigger. Must be called before
// Run.
func (ix *Indexer) SetRefresher(r MembershipRefresher) {
	ix.refresher = r
}

// Run executes the poll/verify loops until the context is cancelled. The
// watermark is restored from the store before the first tick.
func (ix *Indexer) Run(ctx context.Context) {
	if err := ix.loadWatermark(ctx); err != nil {
		ix.logger.Error("failed to load watermark, starting from zero", zap.Error(err))
	}
	ix.running.Store(true)
	defer ix.running.Store(false)

	ix.logger.Info("indexer started",
		zap.Uint32("watermark", ix.watermark.Load()),
		zap.Int("contracts", len(ix.contracts)),
		zap.Duration("poll_interval", ix.interval))

	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	for {
		ix.tick(ctx)
		select {
		case <-ctx.Done():
			ix.logger.Info("indexer stopped", zap.Uint32("watermark", ix.watermark.Load()))
			return
		case <-ticker.C:
		}
	}
}

func (ix *Indexer) tick(ctx context.Context) {
	if err := ix.pollOnce(ctx); err != nil && ctx.Err() == nil {
		ix.logger.Error("event poll failed", zap.Error(err))
	}
	if err := ix.verifyOnce(ctx); err != nil && ctx.Err() == nil {
		ix.logger.Error("verify pass failed", zap.Error(err))
	}
}

func (ix *Indexer) loadWatermark(ctx context.Context) error {
	value, ok, err := ix.store.GetMeta(ctx, watermarkKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	seq, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return fmt.Errorf("corrupt watermark %q: %w", value, err)
	}
	ix.watermark.Store(uint32(seq))
	ix.metrics.SetWatermark(uint32(seq))
	return nil
}

// pollOnce ingests events in (watermark, latest]. The watermark only
// advances when every watched contract was queried without a hard failure,
// so a flaky poll re-reads the same window next tick and dedup absorbs the
// overlap.
func (ix *Indexer) pollOnce(ctx context.Context) error {
	latest, err := ix.chain.LatestLedger(ctx)
	if err != nil {
		return err
	}

	mark := ix.watermark.Load()
	if latest <= mark {
		return nil
	}

	for _, contractID := range ix.contracts {
		events, err := ix.chain.GetEvents(ctx, []string{contractID}, mark+1, latest, soroban.DefaultEventPageLimit)
		if err != nil {
			if soroban.IsContractNotFound(err) {
				continue
			}
			return fmt.Errorf("failed to poll contract %s: %w", contractID, err)
		}

		for _, raw := range events {
			parsed, err := parseRawEvent(raw)
			if err != nil {
				ix.logger.Warn("skipping unparseable event",
					zap.String("contract_id", raw.ContractID),
					zap.String("tx_hash", raw.TxHash),
					zap.Error(err))
				continue
			}
			ledger := raw.Ledger
			inserted, err := ix.store.AddEvent(ctx, parsed.Kind, parsed.OrgID, parsed.Payload, &ledger, raw.TxHash, true)
			if err != nil {
				return err
			}
			if inserted {
				ix.metrics.RecordEventIngested(parsed.Kind, "poll")
				ix.logger.Debug("ingested event",
					zap.String("kind", parsed.Kind),
					zap.Uint64("org_id", parsed.OrgID),
					zap.Uint32("ledger", ledger),
					zap.String("tx_hash", raw.TxHash))
			}
		}
	}

	ix.watermark.Store(latest)
	ix.metrics.SetWatermark(latest)
	return ix.store.SetMeta(ctx, watermarkKey, strconv.FormatUint(uint64(latest), 10))
}

// verifyOnce confirms pending client-notified events against the chain:
// success promotes, failure deletes, not-yet-found waits for the next tick.
func (ix *Indexer) verifyOnce(ctx context.Context) error {
	pending, err := ix.store.ListUnverified(ctx, verifyBatchSize)
	if err != nil {
		return err
	}
	ix.metrics.SetPendingEvents(len(pending))
	if len(pending) == 0 {
		return nil
	}

	resolved := make(map[string]*soroban.TxStatus, len(pending))
	for _, ev := range pending {
		status, ok := resolved[ev.TxHash]
		if !ok {
			status, err = ix.chain.PollTx(ctx, ev.TxHash)
			if err != nil {
				ix.logger.Warn("failed to verify pending event",
					zap.String("tx_hash", ev.TxHash), zap.Error(err))
				continue
			}
			resolved[ev.TxHash] = status
		}

		switch status.State {
		case soroban.TxSuccess:
			if err := ix.store.MarkVerified(ctx, ev.TxHash, status.Ledger); err != nil {
				return err
			}
			ix.logger.Info("pending event verified",
				zap.String("kind", ev.Kind),
				zap.Uint64("org_id", ev.OrgID),
				zap.String("tx_hash", ev.TxHash),
				zap.Uint32("ledger", status.Ledger))
			if store.IsMembershipKind(ev.Kind) && ix.refresher != nil {
				ix.refresher.RefreshMember(ctx, ev.OrgID)
			}
		case soroban.TxFailed:
			if err := ix.store.DeletePending(ctx, ev.TxHash); err != nil {
				return err
			}
			ix.logger.Info("pending event dropped, transaction failed",
				zap.String("kind", ev.Kind),
				zap.String("tx_hash", ev.TxHash),
				zap.String("reason", status.Reason))
		case soroban.TxNotFound:
			// Not ingested yet; retry next tick.
		}
	}
	return nil
}

// NotifyEvent records a client-reported transaction as a pending event. The
// hash must be 64 hex characters. A hash the poll loop already ingested is
// absorbed by dedup and reported as success.
func (ix *Indexer) NotifyEvent(ctx context.Context, orgID uint64, kind string, payload map[string]any, txHash string) error {
	if !validTxHash(txHash) {
		return fmt.Errorf("invalid transaction hash %q: want 64 hex characters", txHash)
	}
	_, err := ix.store.AddPendingEvent(ctx, orgID, kind, payload, txHash)
	if err != nil {
		return err
	}
	ix.metrics.RecordEventIngested(kind, "notify")
	return nil
}

// AddManualEvent inserts an operator-supplied event directly as verified,
// under a synthetic hash. Returns the hash so tooling can reference the row.
func (ix *Indexer) AddManualEvent(ctx context.Context, orgID uint64, kind string, payload map[string]any) (string, error) {
	txHash := "manual:" + uuid.NewString()
	ledger := uint32(0)
	if _, err := ix.store.AddEvent(ctx, kind, orgID, payload, &ledger, txHash, true); err != nil {
		return "", err
	}
	ix.metrics.RecordEventIngested(kind, "manual")
	return txHash, nil
}

// Status reports the indexer's current view for the health endpoint.
func (ix *Indexer) Status(ctx context.Context) Status {
	st := Status{
		Running:   ix.running.Load(),
		Watermark: ix.watermark.Load(),
	}
	if n, err := ix.store.EventsCount(ctx); err == nil {
		st.TotalEvents = n
	}
	if n, err := ix.store.OrgsCount(ctx); err == nil {
		st.OrgCount = n
	}
	return st
}

func validTxHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
