package relayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/groth16"
	"github.com/AshFrancis/zkvote-relayer/metrics"
	"github.com/AshFrancis/zkvote-relayer/soroban"
	"github.com/AshFrancis/zkvote-relayer/store"
)

// VoteRequest is a zk-authenticated vote to relay.
type VoteRequest struct {
	OrgID      uint64           `json:"org_id"`
	ProposalID uint64           `json:"proposal_id"`
	Choice     bool             `json:"choice"`
	Nullifier  string           `json:"nullifier"`
	Root       string           `json:"root"`
	Proof      groth16.ProofHex `json:"proof"`
}

// CommentRequest is an anonymous comment to relay, proven against the same
// membership tree as votes.
type CommentRequest struct {
	OrgID      uint64           `json:"org_id"`
	ProposalID uint64           `json:"proposal_id"`
	ContentRef string           `json:"content_ref"`
	ParentID   *uint64          `json:"parent_id,omitempty"`
	VoteChoice bool             `json:"vote_choice"`
	Nullifier  string           `json:"nullifier"`
	Root       string           `json:"root"`
	Commitment string           `json:"commitment"`
	Proof      groth16.ProofHex `json:"proof"`
}

// SubmitResult reports a confirmed submission.
type SubmitResult struct {
	Hash   string `json:"hash"`
	Ledger uint32 `json:"ledger"`
}

// SubmitChain is the chain surface the submitter consumes.
type SubmitChain interface {
	LoadAccount(ctx context.Context, addr string) (txnbuild.SimpleAccount, error)
	Simulate(ctx context.Context, txB64 string) (*soroban.SimResult, error)
	Send(ctx context.Context, txB64 string) (string, error)
	WaitTx(ctx context.Context, hash string) (*soroban.TxStatus, error)
}

// EventNotifier receives the local event for a confirmed submission so the
// indexer can reconcile it with the one emitted on chain.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, orgID uint64, kind string, payload map[string]any, txHash string) error
}

// Submitter relays votes and anonymous comments under the relayer identity.
// It is stateless between requests; the sequence mutex is the only shared
// state, serializing the load-account-to-send span because every submission
// spends the same account's sequence numbers.
type Submitter struct {
	chain    SubmitChain
	builder  *soroban.TxBuilder
	notifier EventNotifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	votingContract   string
	commentsContract string

	seqMu sync.Mutex
}

// NewSubmitter wires the submission pipeline.
func NewSubmitter(chain SubmitChain, builder *soroban.TxBuilder, notifier EventNotifier, votingContract, commentsContract string, m *metrics.Metrics, logger *zap.Logger) *Submitter {
	return &Submitter{
		chain:            chain,
		builder:          builder,
		notifier:         notifier,
		votingContract:   votingContract,
		commentsContract: commentsContract,
		metrics:          m,
		logger:           logger.With(zap.String("component", "submitter")),
	}
}

// SubmitVote relays one vote: validate, encode, simulate, sign, send,
// confirm. No RPC is issued when validation or encoding fails.
func (s *Submitter) SubmitVote(ctx context.Context, req VoteRequest) (*SubmitResult, error) {
	start := time.Now()
	logger := s.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("operation", "vote"),
		zap.Uint64("org_id", req.OrgID),
		zap.Uint64("proposal_id", req.ProposalID))

	args, err := s.voteArgs(req)
	if err != nil {
		s.metrics.RecordSubmission("vote", outcomeOf(err), time.Since(start))
		return nil, err
	}

	result, err := s.relay(ctx, logger, s.votingContract, "vote", args)
	s.metrics.RecordSubmission("vote", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.notify(ctx, logger, req.OrgID, store.KindVoteCast, map[string]any{
		"proposal_id": req.ProposalID,
		"choice":      req.Choice,
	}, result.Hash)
	return result, nil
}

// SubmitComment relays one anonymous comment.
func (s *Submitter) SubmitComment(ctx context.Context, req CommentRequest) (*SubmitResult, error) {
	start := time.Now()
	logger := s.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("operation", "comment"),
		zap.Uint64("org_id", req.OrgID),
		zap.Uint64("proposal_id", req.ProposalID))

	args, err := s.commentArgs(req)
	if err != nil {
		s.metrics.RecordSubmission("comment", outcomeOf(err), time.Since(start))
		return nil, err
	}

	result, err := s.relay(ctx, logger, s.commentsContract, "add_comment_anonymous", args)
	s.metrics.RecordSubmission("comment", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"proposal_id": req.ProposalID,
		"content_ref": req.ContentRef,
		"vote_choice": req.VoteChoice,
	}
	if req.ParentID != nil {
		payload["parent_id"] = *req.ParentID
	}
	s.notify(ctx, logger, req.OrgID, store.KindCommentAdd, payload, result.Hash)
	return result, nil
}

// voteArgs validates and encodes the vote request into contract arguments.
func (s *Submitter) voteArgs(req VoteRequest) ([]xdr.ScVal, error) {
	if req.OrgID == 0 {
		return nil, validationError("org_id is required", nil)
	}
	if req.ProposalID == 0 {
		return nil, validationError("proposal_id is required", nil)
	}

	nullifier, err := encodeField("nullifier", req.Nullifier)
	if err != nil {
		return nil, err
	}
	root, err := encodeField("root", req.Root)
	if err != nil {
		return nil, err
	}
	proof, err := encodeProof(req.Proof)
	if err != nil {
		return nil, err
	}

	return []xdr.ScVal{
		soroban.U64Val(req.OrgID),
		soroban.U64Val(req.ProposalID),
		soroban.BoolVal(req.Choice),
		soroban.BytesVal(nullifier),
		soroban.BytesVal(root),
		proof.ScVal(),
	}, nil
}

// commentArgs validates and encodes the comment request. An absent parent
// comment is passed to the contract as void.
func (s *Submitter) commentArgs(req CommentRequest) ([]xdr.ScVal, error) {
	if req.OrgID == 0 {
		return nil, validationError("org_id is required", nil)
	}
	if req.ProposalID == 0 {
		return nil, validationError("proposal_id is required", nil)
	}
	if !validContentRef(req.ContentRef) {
		return nil, validationError("content_ref is not a well-formed content id", nil)
	}

	nullifier, err := encodeField("nullifier", req.Nullifier)
	if err != nil {
		return nil, err
	}
	root, err := encodeField("root", req.Root)
	if err != nil {
		return nil, err
	}
	commitment, err := encodeField("commitment", req.Commitment)
	if err != nil {
		return nil, err
	}
	proof, err := encodeProof(req.Proof)
	if err != nil {
		return nil, err
	}

	parent := soroban.VoidVal()
	if req.ParentID != nil {
		parent = soroban.U64Val(*req.ParentID)
	}

	return []xdr.ScVal{
		soroban.U64Val(req.OrgID),
		soroban.U64Val(req.ProposalID),
		soroban.StringVal(req.ContentRef),
		parent,
		soroban.BoolVal(req.VoteChoice),
		soroban.BytesVal(nullifier),
		soroban.BytesVal(root),
		soroban.BytesVal(commitment),
		proof.ScVal(),
	}, nil
}

// relay runs the chain half of the pipeline. The sequence mutex covers
// account load through send: two submissions racing the same sequence number
// would have one of them rejected by the ledger. Confirmation happens
// outside the mutex so a slow close does not stall the queue.
func (s *Submitter) relay(ctx context.Context, logger *zap.Logger, contractID, function string, args []xdr.ScVal) (*SubmitResult, error) {
	op, err := soroban.InvokeOp(contractID, function, args...)
	if err != nil {
		return nil, internalError("failed to build contract operation", err)
	}

	hash, err := s.submitLocked(ctx, logger, op)
	if err != nil {
		return nil, err
	}

	logger.Info("transaction sent", zap.String("tx_hash", hash))

	status, err := s.chain.WaitTx(ctx, hash)
	if err != nil {
		if errors.Is(err, soroban.ErrConfirmTimeout) || ctx.Err() != nil {
			// The send landed; the outcome is just unknown within our budget.
			return nil, &Error{Kind: KindTimeout, Msg: "confirmation timed out", Hash: hash, Err: err}
		}
		return nil, transientError("failed to confirm transaction", err)
	}
	if status.State == soroban.TxFailed {
		logger.Warn("transaction failed on chain", zap.String("tx_hash", hash), zap.String("reason", status.Reason))
		return nil, rejectedError("transaction failed on chain", status.Reason, hash)
	}

	logger.Info("transaction confirmed",
		zap.String("tx_hash", hash),
		zap.Uint32("ledger", status.Ledger))
	return &SubmitResult{Hash: hash, Ledger: status.Ledger}, nil
}

// submitLocked is the load → simulate → sign → send span under the
// sequence mutex.
func (s *Submitter) submitLocked(ctx context.Context, logger *zap.Logger, op *txnbuild.InvokeHostFunction) (string, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", abortedError("request cancelled", err)
	}

	account, err := s.chain.LoadAccount(ctx, s.builder.Address())
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", abortedError("request cancelled", ctx.Err())
		case errors.Is(err, soroban.ErrAccountNotFound):
			return "", &Error{Kind: KindConfig, Msg: "relayer account does not exist on this network", Err: err}
		default:
			return "", transientError("failed to load relayer account", err)
		}
	}

	unsignedB64, err := s.builder.BuildForSimulation(account.Sequence, op)
	if err != nil {
		return "", internalError("failed to assemble transaction", err)
	}

	sim, err := s.chain.Simulate(ctx, unsignedB64)
	if err != nil {
		return "", classifyChainErr(ctx, err, "simulation", "")
	}

	signed, err := s.builder.BuildSigned(account.Sequence, op, sim)
	if err != nil {
		return "", internalError("failed to sign transaction", err)
	}
	signedB64, err := signed.Base64()
	if err != nil {
		return "", internalError("failed to encode transaction", err)
	}

	hash, err := s.chain.Send(ctx, signedB64)
	if err != nil {
		return "", classifyChainErr(ctx, err, "send", hash)
	}
	return hash, nil
}

func classifyChainErr(ctx context.Context, err error, stage, hash string) error {
	var rej *soroban.RejectionError
	switch {
	case errors.As(err, &rej):
		return rejectedError(stage+" rejected", rej.Reason, hash)
	case ctx.Err() != nil:
		return abortedError("request cancelled during "+stage, ctx.Err())
	case errors.Is(err, soroban.ErrTransient):
		return transientError(stage+" failed", err)
	default:
		return internalError(stage+" failed", err)
	}
}

// notify hands the confirmed submission to the indexer. Failure here is
// logged, not surfaced: the chain poll will ingest the event regardless.
func (s *Submitter) notify(ctx context.Context, logger *zap.Logger, orgID uint64, kind string, payload map[string]any, hash string) {
	if s.notifier == nil {
		return
	}
	logger.Debug("notifying indexer", zap.String("kind", kind), zap.Any("payload", Redact(payload)))
	if err := s.notifier.NotifyEvent(ctx, orgID, kind, payload, hash); err != nil {
		logger.Warn("failed to notify indexer", zap.String("kind", kind), zap.Error(err))
	}
}

func encodeField(name, value string) ([]byte, error) {
	b, err := groth16.EncodeField(value)
	if err != nil {
		return nil, mapEncodeErr(name, err)
	}
	return b, nil
}

func encodeProof(p groth16.ProofHex) (*groth16.Proof, error) {
	proof, err := groth16.EncodeProof(p)
	if err != nil {
		return nil, mapEncodeErr("proof", err)
	}
	return proof, nil
}

func mapEncodeErr(field string, err error) error {
	switch {
	case errors.Is(err, groth16.ErrFieldRange):
		return &Error{Kind: KindFieldRange, Msg: field + " exceeds the field modulus", Err: err}
	case errors.Is(err, groth16.ErrPointAtInfinity):
		return &Error{Kind: KindPointAtInfinity, Msg: field + " encodes the point at infinity", Err: err}
	default:
		return validationError(field+" is malformed", err)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return string(KindOf(err))
}

// validContentRef accepts IPFS-style content ids: base58 or base32
// alphanumerics of plausible length. The relayer stores the reference
// opaquely; this only rejects garbage before it costs a transaction.
func validContentRef(ref string) bool {
	if len(ref) < 32 || len(ref) > 128 {
		return false
	}
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
