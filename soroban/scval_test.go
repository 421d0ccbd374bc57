package soroban

import (
	"testing"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

func testContractID(t *testing.T, b byte) string {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = b
	id, err := strkey.Encode(strkey.VersionByteContract, raw)
	if err != nil {
		t.Fatalf("strkey.Encode returned error: %v", err)
	}
	return id
}

func TestContractAddressRoundTrip(t *testing.T) {
	id := testContractID(t, 7)
	addr, err := ContractAddress(id)
	if err != nil {
		t.Fatalf("ContractAddress returned error: %v", err)
	}
	if addr.Type != xdr.ScAddressTypeScAddressTypeContract {
		t.Fatalf("address type = %v", addr.Type)
	}

	got, err := scAddressString(addr)
	if err != nil {
		t.Fatalf("scAddressString returned error: %v", err)
	}
	if got != id {
		t.Errorf("round trip = %q, want %q", got, id)
	}

	if _, err := ContractAddress("not-a-contract-id"); err == nil {
		t.Error("ContractAddress accepted garbage")
	}
}

func TestScValAccessors(t *testing.T) {
	if v, ok := ScValUint64(U32Val(9)); !ok || v != 9 {
		t.Errorf("ScValUint64(u32) = %d, %v", v, ok)
	}
	if v, ok := ScValUint64(U64Val(1 << 40)); !ok || v != 1<<40 {
		t.Errorf("ScValUint64(u64) = %d, %v", v, ok)
	}
	if _, ok := ScValUint64(StringVal("nope")); ok {
		t.Error("ScValUint64 accepted a string")
	}

	if s, ok := ScValString(SymbolVal("vote_cast")); !ok || s != "vote_cast" {
		t.Errorf("ScValString(symbol) = %q, %v", s, ok)
	}
	if s, ok := ScValString(StringVal("hello")); !ok || s != "hello" {
		t.Errorf("ScValString(string) = %q, %v", s, ok)
	}

	if b, ok := ScValBool(BoolVal(true)); !ok || !b {
		t.Errorf("ScValBool = %v, %v", b, ok)
	}

	entries := xdr.ScMap{
		{Key: SymbolVal("id"), Val: U64Val(3)},
		{Key: SymbolVal("name"), Val: StringVal("alpha")},
	}
	m := &entries
	fields, ok := ScValMap(xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &m})
	if !ok {
		t.Fatal("ScValMap rejected a symbol-keyed map")
	}
	if id, _ := ScValUint64(fields["id"]); id != 3 {
		t.Errorf("map id = %d", id)
	}
}

func TestScValToAny(t *testing.T) {
	entries := xdr.ScMap{
		{Key: SymbolVal("proposal_id"), Val: U64Val(7)},
		{Key: SymbolVal("choice"), Val: BoolVal(true)},
		{Key: SymbolVal("root"), Val: BytesVal([]byte{0xab, 0xcd})},
	}
	m := &entries

	got := ScValToAny(xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &m})
	payload, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("ScValToAny returned %T, want map", got)
	}
	if payload["proposal_id"] != uint64(7) {
		t.Errorf("proposal_id = %v", payload["proposal_id"])
	}
	if payload["choice"] != true {
		t.Errorf("choice = %v", payload["choice"])
	}
	// Bytes render as hex for JSON friendliness.
	if payload["root"] != "abcd" {
		t.Errorf("root = %v, want abcd", payload["root"])
	}

	if ScValToAny(VoidVal()) != nil {
		t.Error("void did not map to nil")
	}
}
