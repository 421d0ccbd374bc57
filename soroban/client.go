// Package soroban wraps the Soroban RPC endpoint behind the narrow surface
// the relayer needs: health, account sequence lookup, transaction simulation
// with retry, submission, confirmation polling, read-only contract views and
// contract event queries. Every call runs under a per-request deadline.
package soroban

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/client"
	"github.com/stellar/stellar-rpc/protocol"
	"go.uber.org/zap"

	"github.com/AshFrancis/zkvote-relayer/metrics"
)

const (
	simulateAttempts    = 3
	simulateBackoffStep = 200 * time.Millisecond

	waitTxAttempts = 30
	waitTxInterval = 1 * time.Second

	// DefaultEventPageLimit bounds one getEvents response.
	DefaultEventPageLimit = 100
)

// Status strings are compared against local constants rather than protocol
// package names, which have drifted across RPC releases.
const (
	sendStatusPending       = "PENDING"
	sendStatusDuplicate     = "DUPLICATE"
	sendStatusTryAgainLater = "TRY_AGAIN_LATER"
	sendStatusError         = "ERROR"

	txStatusSuccess  = "SUCCESS"
	txStatusFailed   = "FAILED"
	txStatusNotFound = "NOT_FOUND"
)

var (
	// ErrTransient marks failures worth retrying: transport errors, RPC
	// timeouts, simulate exhaustion, TRY_AGAIN_LATER.
	ErrTransient = errors.New("transient chain error")
	// ErrConfirmTimeout reports that WaitTx exhausted its polling budget.
	ErrConfirmTimeout = errors.New("transaction confirmation timed out")
	// ErrAccountNotFound reports a missing relayer account entry.
	ErrAccountNotFound = errors.New("account not found on ledger")
)

// RejectionError carries a ledger- or contract-level rejection reason
// verbatim. It is never retried.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by chain: %s", e.Reason)
}

// SimResult is the subset of a simulation response the relayer consumes.
type SimResult struct {
	TransactionDataXDR string
	MinResourceFee     int64
	AuthXDR            []string
	ReturnValueXDR     string
	LatestLedger       uint32
}

// TxState is the terminal classification of a polled transaction.
type TxState int

const (
	TxNotFound TxState = iota
	TxSuccess
	TxFailed
)

// TxStatus is one poll_tx observation.
type TxStatus struct {
	State  TxState
	Ledger uint32
	Reason string
}

// RawEvent is one contract event as returned by getEvents, with the XDR
// topic and value already decoded.
type RawEvent struct {
	ContractID string
	TxHash     string
	Ledger     uint32
	Topics     []xdr.ScVal
	Value      xdr.ScVal
}

// Client wraps one Soroban RPC endpoint.
type Client struct {
	rpc     *client.Client
	source  string // account id used as the source of read-only view calls
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewClient connects to the RPC endpoint. source is the relayer account id;
// it anchors throwaway read-only simulations and is never charged.
func NewClient(url, source string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		rpc:     client.NewClient(url, nil),
		source:  source,
		timeout: timeout,
		metrics: m,
		logger:  logger.With(zap.String("component", "chain")),
	}
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) record(method string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.RecordRPC(method, outcome, time.Since(start))
}

// Health performs one bounded health probe.
func (c *Client) Health(ctx context.Context) (bool, string) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetHealth(cctx)
	c.record("getHealth", err, start)
	if err != nil {
		return false, err.Error()
	}
	return strings.EqualFold(resp.Status, "healthy"), resp.Status
}

// LatestLedger returns the newest ledger sequence the endpoint has ingested.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetLatestLedger(cctx)
	c.record("getLatestLedger", err, start)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get latest ledger: %v", ErrTransient, err)
	}
	return resp.Sequence, nil
}

// LoadAccount fetches the account entry and returns it with its current
// sequence number, ready for txnbuild's IncrementSequenceNum.
func (c *Client) LoadAccount(ctx context.Context, addr string) (txnbuild.SimpleAccount, error) {
	accountID, err := xdr.AddressToAccountId(addr)
	if err != nil {
		return txnbuild.SimpleAccount{}, fmt.Errorf("failed to parse account address: %w", err)
	}
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return txnbuild.SimpleAccount{}, fmt.Errorf("failed to encode account ledger key: %w", err)
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetLedgerEntries(cctx, protocol.GetLedgerEntriesRequest{Keys: []string{keyB64}})
	c.record("getLedgerEntries", err, start)
	if err != nil {
		return txnbuild.SimpleAccount{}, fmt.Errorf("%w: failed to load account: %v", ErrTransient, err)
	}
	if len(resp.Entries) == 0 {
		return txnbuild.SimpleAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return txnbuild.SimpleAccount{}, fmt.Errorf("failed to decode account entry: %w", err)
	}
	if data.Type != xdr.LedgerEntryTypeAccount || data.Account == nil {
		return txnbuild.SimpleAccount{}, fmt.Errorf("ledger entry for %s is not an account", addr)
	}

	return txnbuild.SimpleAccount{
		AccountID: addr,
		Sequence:  int64(data.Account.SeqNum),
	}, nil
}

// Simulate runs simulateTransaction with retry: up to three attempts with a
// 200ms-per-attempt backoff. Transport failures are retried; a simulation
// that the host itself rejects is surfaced immediately as a RejectionError,
// since re-running it cannot change the answer.
func (c *Client) Simulate(ctx context.Context, txB64 string) (*SimResult, error) {
	var lastErr error
	for attempt := 1; attempt <= simulateAttempts; attempt++ {
		cctx, cancel := c.callCtx(ctx)
		start := time.Now()
		resp, err := c.rpc.SimulateTransaction(cctx, protocol.SimulateTransactionRequest{Transaction: txB64})
		cancel()
		c.record("simulateTransaction", err, start)

		if err == nil {
			if resp.Error != "" {
				return nil, &RejectionError{Reason: resp.Error}
			}
			return simResultFrom(resp)
		}

		lastErr = err
		c.logger.Warn("simulation attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == simulateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * simulateBackoffStep):
		}
	}
	return nil, fmt.Errorf("%w: simulation failed after %d attempts: %v", ErrTransient, simulateAttempts, lastErr)
}

func simResultFrom(resp protocol.SimulateTransactionResponse) (*SimResult, error) {
	out := &SimResult{
		TransactionDataXDR: resp.TransactionDataXDR,
		MinResourceFee:     resp.MinResourceFee,
		LatestLedger:       resp.LatestLedger,
	}
	if len(resp.Results) > 0 {
		r := resp.Results[0]
		if r.ReturnValueXDR != nil {
			out.ReturnValueXDR = *r.ReturnValueXDR
		}
		if r.AuthXDR != nil {
			out.AuthXDR = *r.AuthXDR
		}
	}
	return out, nil
}

// SimulateRead invokes a read-only contract view by simulating a throwaway
// transaction on a zero-sequence copy of the source account. Nothing is
// signed or submitted. The same retry policy as Simulate applies.
func (c *Client) SimulateRead(ctx context.Context, contractID, function string, args ...xdr.ScVal) (xdr.ScVal, error) {
	op, err := InvokeOp(contractID, function, args...)
	if err != nil {
		return xdr.ScVal{}, err
	}

	account := txnbuild.SimpleAccount{AccountID: c.source, Sequence: 0}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
	})
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("failed to build view transaction: %w", err)
	}
	txB64, err := tx.Base64()
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("failed to encode view transaction: %w", err)
	}

	sim, err := c.Simulate(ctx, txB64)
	if err != nil {
		return xdr.ScVal{}, err
	}
	if sim.ReturnValueXDR == "" {
		return xdr.ScVal{Type: xdr.ScValTypeScvVoid}, nil
	}

	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(sim.ReturnValueXDR, &val); err != nil {
		return xdr.ScVal{}, fmt.Errorf("failed to decode view return value: %w", err)
	}
	return val, nil
}

// Send submits a signed transaction. The immediate status is classified:
// PENDING and DUPLICATE both count as queued (a duplicate means the same
// envelope is already in flight, which is success for our purposes),
// TRY_AGAIN_LATER is transient, ERROR is a remote rejection with the decoded
// result code. Send is never retried here: it is not idempotent at the
// ledger level.
func (c *Client) Send(ctx context.Context, txB64 string) (string, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.SendTransaction(cctx, protocol.SendTransactionRequest{Transaction: txB64})
	c.record("sendTransaction", err, start)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send transaction: %v", ErrTransient, err)
	}

	switch resp.Status {
	case sendStatusPending, sendStatusDuplicate:
		return resp.Hash, nil
	case sendStatusTryAgainLater:
		return resp.Hash, fmt.Errorf("%w: ledger asked to try again later", ErrTransient)
	case sendStatusError:
		return resp.Hash, &RejectionError{Reason: decodeSendError(resp.ErrorResultXDR)}
	default:
		return resp.Hash, fmt.Errorf("unexpected send status %q", resp.Status)
	}
}

func decodeSendError(errorResultXDR string) string {
	if errorResultXDR == "" {
		return "transaction rejected"
	}
	var result xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(errorResultXDR, &result); err != nil {
		return errorResultXDR
	}
	return result.Result.Code.String()
}

// PollTx performs a single getTransaction read and classifies the result.
func (c *Client) PollTx(ctx context.Context, hash string) (*TxStatus, error) {
	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.rpc.GetTransaction(cctx, protocol.GetTransactionRequest{Hash: hash})
	c.record("getTransaction", err, start)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to poll transaction: %v", ErrTransient, err)
	}

	switch resp.Status {
	case txStatusSuccess:
		return &TxStatus{State: TxSuccess, Ledger: uint32(resp.Ledger)}, nil
	case txStatusFailed:
		return &TxStatus{State: TxFailed, Reason: failureReason(resp.ResultXDR)}, nil
	case txStatusNotFound:
		return &TxStatus{State: TxNotFound}, nil
	default:
		return nil, fmt.Errorf("unexpected transaction status %q", resp.Status)
	}
}

func failureReason(resultXDR string) string {
	if resultXDR == "" {
		return "transaction failed"
	}
	var result xdr.TransactionResult
	if err := xdr.SafeUnmarshalBase64(resultXDR, &result); err != nil {
		return "transaction failed"
	}
	return result.Result.Code.String()
}

// WaitTx polls once per second until the transaction reaches a terminal
// state, up to 30 attempts. Exhaustion returns ErrConfirmTimeout; the caller
// still holds the hash.
func (c *Client) WaitTx(ctx context.Context, hash string) (*TxStatus, error) {
	for attempt := 0; attempt < waitTxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTxInterval):
			}
		}

		status, err := c.PollTx(ctx, hash)
		if err != nil {
			// A flaky poll should not abort the wait; the budget bounds it.
			c.logger.Warn("confirmation poll failed", zap.String("tx_hash", hash), zap.Error(err))
			continue
		}
		if status.State != TxNotFound {
			return status, nil
		}
	}
	return nil, ErrConfirmTimeout
}

// GetEvents returns contract events in (startLedger-1, endLedger] for the
// given contracts. The RPC is queried from startLedger; the upper bound is
// enforced here so a poll never observes past its chosen snapshot.
func (c *Client) GetEvents(ctx context.Context, contractIDs []string, startLedger, endLedger uint32, limit int) ([]RawEvent, error) {
	if limit <= 0 {
		limit = DefaultEventPageLimit
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := protocol.GetEventsRequest{
		StartLedger: startLedger,
		Filters: []protocol.EventFilter{
			{ContractIDs: contractIDs},
		},
		Pagination: &protocol.PaginationOptions{Limit: uint(limit)},
	}

	start := time.Now()
	resp, err := c.rpc.GetEvents(cctx, req)
	c.record("getEvents", err, start)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get events: %v", ErrTransient, err)
	}

	out := make([]RawEvent, 0, len(resp.Events))
	for _, ev := range resp.Events {
		ledger := uint32(ev.Ledger)
		if ledger > endLedger {
			continue
		}
		raw := RawEvent{
			ContractID: ev.ContractID,
			TxHash:     ev.TransactionHash,
			Ledger:     ledger,
		}
		ok := true
		for _, topicB64 := range ev.TopicXDR {
			var topic xdr.ScVal
			if err := xdr.SafeUnmarshalBase64(topicB64, &topic); err != nil {
				c.logger.Warn("failed to decode event topic",
					zap.String("event_id", ev.ID), zap.Error(err))
				ok = false
				break
			}
			raw.Topics = append(raw.Topics, topic)
		}
		if !ok {
			continue
		}
		if ev.ValueXDR != "" {
			if err := xdr.SafeUnmarshalBase64(ev.ValueXDR, &raw.Value); err != nil {
				c.logger.Warn("failed to decode event value",
					zap.String("event_id", ev.ID), zap.Error(err))
				continue
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

// IsContractNotFound reports errors that mean the queried contract does not
// exist on this network. The indexer suppresses these instead of stalling
// the watermark.
func IsContractNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}
