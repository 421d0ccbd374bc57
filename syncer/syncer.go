// Package syncer reconciles the local organization and membership caches
// with on-chain registry state. It only ever issues read-only simulation
// calls; reconciliation is upsert-based and idempotent.
package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/metrics"
	"github.com/AshFrancis/zkvote-relayer/soroban"
	"github.com/AshFrancis/zkvote-relayer/store"
)

const (
	lastOrgSyncKey = "last_org_sync"

	// membershipPageLimit is the page size for get_members; a short page
	// terminates the pagination loop.
	membershipPageLimit = 50
)

// ChainReader is the read-only chain surface the syncer consumes.
type ChainReader interface {
	SimulateRead(ctx context.Context, contractID, function string, args ...xdr.ScVal) (xdr.ScVal, error)
}

// Syncer runs the org and membership reconciliation loops.
type Syncer struct {
	store   *store.Store
	chain   ChainReader
	logger  *zap.Logger
	metrics *metrics.Metrics

	registryID   string
	membershipID string

	orgInterval        time.Duration
	membershipInterval time.Duration

	members    atomic.Pointer[MembershipSnapshot]
	orgs       atomic.Pointer[OrgSnapshot]
	lastOrgRun atomic.Int64
}

// New builds a syncer. Empty registry or membership contract ids disable the
// corresponding loop.
func New(st *store.Store, chain ChainReader, registryID, membershipID string, orgInterval, membershipInterval time.Duration, m *metrics.Metrics, logger *zap.Logger) *Syncer {
	s := &Syncer{
		store:              st,
		chain:              chain,
		registryID:         registryID,
		membershipID:       membershipID,
		orgInterval:        orgInterval,
		membershipInterval: membershipInterval,
		metrics:            m,
		logger:             logger.With(zap.String("component", "syncer")),
	}
	s.members.Store(emptySnapshot())
	s.orgs.Store(emptyOrgSnapshot())
	return s
}

// RunOrgLoop sweeps the registry until the context is cancelled.
func (s *Syncer) RunOrgLoop(ctx context.Context) {
	if s.registryID == "" {
		s.logger.Info("registry contract not configured, org sync disabled")
		return
	}

	ticker := time.NewTicker(s.orgInterval)
	defer ticker.Stop()

	for {
		if err := s.SyncOrgs(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("org sync failed", zap.Error(err))
			s.metrics.RecordSyncRun("org", "error")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunMembershipLoop sweeps membership sets until the context is cancelled.
func (s *Syncer) RunMembershipLoop(ctx context.Context) {
	if s.membershipID == "" {
		s.logger.Info("membership contract not configured, membership sync disabled")
		return
	}

	ticker := time.NewTicker(s.membershipInterval)
	defer ticker.Stop()

	for {
		if err := s.SyncMemberships(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("membership sync failed", zap.Error(err))
			s.metrics.RecordSyncRun("membership", "error")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOrgs reads the registry's count and every row 1..count, upserts them
// in one transaction, and back-fills synthetic organization-create events
// for orgs that predate the indexer watermark. Per-org decode failures skip
// that org and keep sweeping.
func (s *Syncer) SyncOrgs(ctx context.Context) error {
	countVal, err := s.chain.SimulateRead(ctx, s.registryID, "count")
	if err != nil {
		return fmt.Errorf("failed to read registry count: %w", err)
	}
	count, ok := soroban.ScValUint64(countVal)
	if !ok {
		return fmt.Errorf("registry count is not an integer")
	}

	orgs := make([]store.Org, 0, count)
	for i := uint64(1); i <= count; i++ {
		val, err := s.chain.SimulateRead(ctx, s.registryID, "get", soroban.U64Val(i))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to read org, skipping", zap.Uint64("org_id", i), zap.Error(err))
			continue
		}
		org, err := decodeOrg(val)
		if err != nil {
			s.logger.Warn("failed to decode org, skipping", zap.Uint64("org_id", i), zap.Error(err))
			continue
		}
		orgs = append(orgs, *org)
	}

	if err := s.store.UpsertOrgs(ctx, orgs); err != nil {
		return err
	}
	now := time.Now().Unix()
	if err := s.store.SetMeta(ctx, lastOrgSyncKey, strconv.FormatInt(now, 10)); err != nil {
		return err
	}
	s.lastOrgRun.Store(now)
	s.orgs.Store(newOrgSnapshot(orgs))
	s.metrics.SetOrgsCached(int64(len(orgs)))
	s.metrics.RecordSyncRun("org", "ok")

	s.backfillOrgEvents(ctx, orgs)

	s.logger.Info("org sync complete", zap.Int("orgs", len(orgs)))
	return nil
}

// backfillOrgEvents synthesizes organization-create events for orgs whose
// real event predates the watermark. The synthetic tx hash keys dedup, so
// repeated sweeps are no-ops.
func (s *Syncer) backfillOrgEvents(ctx context.Context, orgs []store.Org) {
	for _, org := range orgs {
		ledger := uint32(0)
		payload := map[string]any{
			"synthetic": true,
			"name":      org.Name,
			"admin":     org.Admin,
		}
		txHash := fmt.Sprintf("synthetic:org:%d", org.ID)
		inserted, err := s.store.AddEvent(ctx, store.KindOrgCreate, org.ID, payload, &ledger, txHash, true)
		if err != nil {
			s.logger.Warn("failed to back-fill org event", zap.Uint64("org_id", org.ID), zap.Error(err))
			continue
		}
		if inserted {
			s.metrics.RecordEventIngested(store.KindOrgCreate, "synthetic")
		}
	}
}

// SyncMemberships rebuilds the membership set of every cached org and swaps
// the assembled snapshot in atomically.
func (s *Syncer) SyncMemberships(ctx context.Context) error {
	orgs, err := s.store.ListOrgs(ctx)
	if err != nil {
		return err
	}

	next := s.members.Load().clone()
	for _, org := range orgs {
		set, err := s.fetchMembers(ctx, org.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to fetch members, keeping previous set",
				zap.Uint64("org_id", org.ID), zap.Error(err))
			continue
		}
		next.members[org.ID] = set
		next.admins[org.ID] = org.Admin
	}
	s.members.Store(next)
	s.metrics.SetMembersCached(next.totalMembers())
	s.metrics.RecordSyncRun("membership", "ok")

	s.logger.Info("membership sync complete",
		zap.Int("orgs", len(orgs)),
		zap.Int("members", next.totalMembers()))
	return nil
}

// RefreshMember re-fetches a single org's membership set. Triggered by the
// indexer on verified membership events; idempotent set replacement, safe
// concurrently with the periodic sweep.
func (s *Syncer) RefreshMember(ctx context.Context, orgID uint64) {
	if s.membershipID == "" {
		return
	}
	set, err := s.fetchMembers(ctx, orgID)
	if err != nil {
		s.logger.Warn("membership refresh failed", zap.Uint64("org_id", orgID), zap.Error(err))
		return
	}

	next := s.members.Load().clone()
	next.members[orgID] = set
	if org, err := s.store.GetOrg(ctx, orgID); err == nil && org != nil {
		next.admins[orgID] = org.Admin
	}
	s.members.Store(next)
	s.metrics.SetMembersCached(next.totalMembers())

	s.logger.Info("membership refreshed", zap.Uint64("org_id", orgID), zap.Int("members", len(set)))
}

// fetchMembers pages through get_members until a short page.
func (s *Syncer) fetchMembers(ctx context.Context, orgID uint64) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for offset := uint32(0); ; offset += membershipPageLimit {
		val, err := s.chain.SimulateRead(ctx, s.membershipID, "get_members",
			soroban.U64Val(orgID), soroban.U32Val(offset), soroban.U32Val(membershipPageLimit))
		if err != nil {
			return nil, err
		}
		page, ok := soroban.ScValVec(val)
		if !ok {
			return nil, fmt.Errorf("get_members returned a non-vector value")
		}
		for _, elem := range page {
			if addr, ok := soroban.ScValAddress(elem); ok {
				set[addr] = struct{}{}
			}
		}
		if len(page) < membershipPageLimit {
			return set, nil
		}
	}
}

// LastOrgSync returns the completion time of the most recent org sweep, or
// the zero time before the first one.
func (s *Syncer) LastOrgSync() time.Time {
	ts := s.lastOrgRun.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

// decodeOrg maps a registry get(i) return value into an org row.
func decodeOrg(val xdr.ScVal) (*store.Org, error) {
	fields, ok := soroban.ScValMap(val)
	if !ok {
		return nil, fmt.Errorf("org entry is not a map")
	}

	org := &store.Org{}
	if id, ok := soroban.ScValUint64(fields["id"]); ok {
		org.ID = id
	} else {
		return nil, fmt.Errorf("org entry has no id")
	}
	if name, ok := soroban.ScValString(fields["name"]); ok {
		org.Name = name
	}
	if admin, ok := soroban.ScValAddress(fields["admin"]); ok {
		org.Admin = admin
	}
	if open, ok := soroban.ScValBool(fields["open_membership"]); ok {
		org.OpenMembership = open
	}
	if propose, ok := soroban.ScValBool(fields["members_can_propose"]); ok {
		org.MembersCanPropose = propose
	}
	if ref, ok := soroban.ScValString(fields["metadata_ref"]); ok {
		org.MetadataRef = ref
	}
	if n, ok := soroban.ScValUint64(fields["member_count"]); ok {
		org.MemberCount = uint32(n)
	}
	return org, nil
}
