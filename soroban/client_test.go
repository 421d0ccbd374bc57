package soroban

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
)

func simulateResponseFixture(data string, fee int64, ret *string, auth *[]string) protocol.SimulateTransactionResponse {
	resp := protocol.SimulateTransactionResponse{
		TransactionDataXDR: data,
		MinResourceFee:     fee,
	}
	if ret != nil || auth != nil {
		resp.Results = []protocol.SimulateHostFunctionResult{{ReturnValueXDR: ret, AuthXDR: auth}}
	}
	return resp
}

func TestDecodeSendError(t *testing.T) {
	if got := decodeSendError(""); got != "transaction rejected" {
		t.Errorf("empty result = %q", got)
	}

	// Garbage XDR falls back to the raw string instead of hiding it.
	if got := decodeSendError("not-base64!"); got != "not-base64!" {
		t.Errorf("garbage result = %q", got)
	}

	result := xdr.TransactionResult{
		Result: xdr.TransactionResultResult{Code: xdr.TransactionResultCodeTxBadSeq},
	}
	b64, err := xdr.MarshalBase64(result)
	if err != nil {
		t.Fatalf("MarshalBase64 returned error: %v", err)
	}
	if got := decodeSendError(b64); got != xdr.TransactionResultCodeTxBadSeq.String() {
		t.Errorf("decoded reason = %q, want %q", got, xdr.TransactionResultCodeTxBadSeq.String())
	}
}

func TestFailureReason(t *testing.T) {
	if got := failureReason(""); got != "transaction failed" {
		t.Errorf("empty result = %q", got)
	}
	if got := failureReason("!!"); got != "transaction failed" {
		t.Errorf("garbage result = %q", got)
	}
}

func TestIsContractNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("contract not found"), true},
		{errors.New("entry Does Not Exist"), true},
		{fmt.Errorf("%w: connection refused", ErrTransient), false},
	}
	for _, tt := range tests {
		if got := IsContractNotFound(tt.err); got != tt.want {
			t.Errorf("IsContractNotFound(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSimResultFrom(t *testing.T) {
	ret := "AAAAAQ=="
	auth := []string{"authEntry"}

	out, err := simResultFrom(simulateResponseFixture("txdata", 700, &ret, &auth))
	if err != nil {
		t.Fatalf("simResultFrom returned error: %v", err)
	}
	if out.TransactionDataXDR != "txdata" || out.MinResourceFee != 700 {
		t.Errorf("result = %+v", out)
	}
	if out.ReturnValueXDR != ret {
		t.Errorf("return value = %q, want %q", out.ReturnValueXDR, ret)
	}
	if len(out.AuthXDR) != 1 || out.AuthXDR[0] != "authEntry" {
		t.Errorf("auth = %v", out.AuthXDR)
	}

	// A response with no results leaves the optional fields empty.
	out, err = simResultFrom(simulateResponseFixture("txdata", 700, nil, nil))
	if err != nil {
		t.Fatalf("simResultFrom returned error: %v", err)
	}
	if out.ReturnValueXDR != "" || out.AuthXDR != nil {
		t.Errorf("empty result = %+v", out)
	}
}
