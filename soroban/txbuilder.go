package soroban

import (
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// txTimeoutSeconds bounds how long a signed transaction stays valid.
const txTimeoutSeconds = 300

// TxBuilder assembles and signs Soroban invocations for a single
// relayer identity.
type TxBuilder struct {
	kp         *keypair.Full
	passphrase string
}

// NewTxBuilder wraps the relayer keypair and target network passphrase.
func NewTxBuilder(kp *keypair.Full, passphrase string) *TxBuilder {
	return &TxBuilder{kp: kp, passphrase: passphrase}
}

// Address returns the relayer's public account id.
func (b *TxBuilder) Address() string {
	return b.kp.Address()
}

// InvokeOp builds the host-function operation for a contract call.
func InvokeOp(contractID, function string, args ...xdr.ScVal) (*txnbuild.InvokeHostFunction, error) {
	addr, err := ContractAddress(contractID)
	if err != nil {
		return nil, err
	}
	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: addr,
				FunctionName:    xdr.ScSymbol(function),
				Args:            args,
			},
		},
	}, nil
}

// BuildForSimulation assembles an unsigned transaction at the minimum
// base fee. seq is the account's current (last used) sequence number.
func (b *TxBuilder) BuildForSimulation(seq int64, op *txnbuild.InvokeHostFunction) (string, error) {
	tx, err := txnbuild.NewTransaction(b.params(seq, op, txnbuild.MinBaseFee))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx.Base64()
}

// BuildSigned rebuilds the transaction with the simulation's resource
// footprint, auth entries and fee applied, then signs it. It must be
// called with the same sequence number the simulation was built with.
func (b *TxBuilder) BuildSigned(seq int64, op *txnbuild.InvokeHostFunction, sim *SimResult) (*txnbuild.Transaction, error) {
	if sim.TransactionDataXDR != "" {
		var sorobanData xdr.SorobanTransactionData
		if err := xdr.SafeUnmarshalBase64(sim.TransactionDataXDR, &sorobanData); err != nil {
			return nil, fmt.Errorf("failed to decode soroban transaction data: %w", err)
		}
		op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}
	}
	if len(sim.AuthXDR) > 0 && len(op.Auth) == 0 {
		auth := make([]xdr.SorobanAuthorizationEntry, 0, len(sim.AuthXDR))
		for _, raw := range sim.AuthXDR {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(raw, &entry); err != nil {
				return nil, fmt.Errorf("failed to decode authorization entry: %w", err)
			}
			auth = append(auth, entry)
		}
		op.Auth = auth
	}
	tx, err := txnbuild.NewTransaction(b.params(seq, op, txnbuild.MinBaseFee+sim.MinResourceFee))
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild transaction: %w", err)
	}
	signed, err := tx.Sign(b.passphrase, b.kp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// TxHash computes the network hash of an assembled transaction.
func (b *TxBuilder) TxHash(tx *txnbuild.Transaction) (string, error) {
	return tx.HashHex(b.passphrase)
}

func (b *TxBuilder) params(seq int64, op *txnbuild.InvokeHostFunction, baseFee int64) txnbuild.TransactionParams {
	account := txnbuild.SimpleAccount{AccountID: b.kp.Address(), Sequence: seq}
	return txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              baseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
	}
}
