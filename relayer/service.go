// Package relayer wires the relayer's components together: the submission
// pipeline, the typed error surface, and the orchestrator owning shared
// handles and the background loops.
package relayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellar/go/keypair"
	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/config"
	"github.com/AshFrancis/zkvote-relayer/indexer"
	"github.com/AshFrancis/zkvote-relayer/metrics"
	"github.com/AshFrancis/zkvote-relayer/soroban"
	"github.com/AshFrancis/zkvote-relayer/store"
	"github.com/AshFrancis/zkvote-relayer/syncer"
)

// statsInterval is the cadence of the gauge refresh loop.
const statsInterval = 15 * time.Second

// Service owns every shared handle and the lifecycle of the background
// loops. Submissions run synchronously in the caller's context; the indexer
// and syncer loops run until Stop.
type Service struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store     *store.Store
	chain     *soroban.Client
	builder   *soroban.TxBuilder
	submitter *Submitter
	indexer   *indexer.Indexer
	syncer    *syncer.Syncer

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// New builds the service from a validated configuration. The store is opened
// here so a bad data directory fails before any loop starts.
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	kp, err := keypair.ParseFull(cfg.Relayer.SecretKey)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Msg: "failed to parse relayer secret key", Err: err}
	}

	m := metrics.New()

	st, err := store.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	chain := soroban.NewClient(cfg.RPC.URL, kp.Address(), cfg.RPCTimeout(), m, logger)
	builder := soroban.NewTxBuilder(kp, cfg.Network.Passphrase)

	ix := indexer.New(st, chain, cfg.WatchedContracts(), cfg.PollInterval(), m, logger)
	sy := syncer.New(st, chain, cfg.Contracts.Registry, cfg.Contracts.Membership,
		cfg.OrgSyncInterval(), cfg.MembershipSyncInterval(), m, logger)
	ix.SetRefresher(sy)

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		store:     st,
		chain:     chain,
		builder:   builder,
		indexer:   ix,
		syncer:    sy,
		submitter: NewSubmitter(chain, builder, ix, cfg.Contracts.Voting, cfg.Contracts.Comments, m, logger),
	}
	return svc, nil
}

// Start spawns the indexer, syncer and stats loops.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startedAt = time.Now()

	s.logger.Info("relayer service starting",
		zap.String("relayer_account", s.builder.Address()),
		zap.String("rpc_url", s.cfg.RPC.URL),
		zap.Int("watched_contracts", len(s.cfg.WatchedContracts())))

	s.spawn(func() { s.indexer.Run(ctx) })
	s.spawn(func() { s.syncer.RunOrgLoop(ctx) })
	s.spawn(func() { s.syncer.RunMembershipLoop(ctx) })
	s.spawn(func() { s.statsLoop(ctx) })
}

func (s *Service) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop cancels the loops, waits for them to reach a quiescent point, then
// closes the store.
func (s *Service) Stop() {
	s.logger.Info("relayer service stopping")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		s.logger.Error("failed to close store", zap.Error(err))
	}
	s.logger.Info("relayer service stopped")
}

// statsLoop keeps the slow-moving gauges current.
func (s *Service) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n, err := s.store.OrgsCount(ctx); err == nil {
			s.metrics.SetOrgsCached(n)
		}
	}
}

// Submitter returns the write API.
func (s *Service) Submitter() *Submitter {
	return s.submitter
}

// Store returns the read API.
func (s *Service) Store() *store.Store {
	return s.store
}

// Indexer returns the notify API and status surface.
func (s *Service) Indexer() *indexer.Indexer {
	return s.indexer
}

// Syncer returns the membership cache surface.
func (s *Service) Syncer() *syncer.Syncer {
	return s.syncer
}

// Metrics returns the Prometheus surface.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// OrgsSnapshotTime returns when the org cache was last reconciled.
func (s *Service) OrgsSnapshotTime() time.Time {
	return s.syncer.LastOrgSync()
}

// ChainHealth probes the RPC endpoint.
func (s *Service) ChainHealth(ctx context.Context) (bool, string) {
	return s.chain.Health(ctx)
}

// Uptime reports how long the service has been running.
func (s *Service) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}
