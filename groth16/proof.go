package groth16

import (
	"encoding/hex"

	"github.com/stellar/go/xdr"
)

// ProofHex is the wire form of a Groth16 proof: three hex strings as
// produced by client-side provers.
type ProofHex struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// Proof is the canonical encoded form: A and C are G1 points, B is a G2
// point.
type Proof struct {
	A []byte // 64 bytes
	B []byte // 128 bytes
	C []byte // 64 bytes
}

// EncodeProof validates and encodes each proof component. A component that
// is all zeros fails with ErrPointAtInfinity; the host performs the actual
// curve checks.
func EncodeProof(p ProofHex) (*Proof, error) {
	a, err := EncodeG1(p.A)
	if err != nil {
		return nil, err
	}
	b, err := EncodeG2(p.B)
	if err != nil {
		return nil, err
	}
	c, err := EncodeG1(p.C)
	if err != nil {
		return nil, err
	}
	return &Proof{A: a, B: b, C: c}, nil
}

// DecodeProof renders a proof back to its normalized hex wire form.
func DecodeProof(p *Proof) ProofHex {
	return ProofHex{
		A: hexOfWidth(p.A, G1Size),
		B: hexOfWidth(p.B, G2Size),
		C: hexOfWidth(p.C, G1Size),
	}
}

func hexOfWidth(b []byte, size int) string {
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return hex.EncodeToString(padded)
}

// ScVal renders the proof in the contract ABI form: a map with symbol keys
// "a", "b", "c" (sorted, as the host requires) and byte-array values.
func (p *Proof) ScVal() xdr.ScVal {
	entries := xdr.ScMap{
		{Key: symbolScVal("a"), Val: bytesScVal(p.A)},
		{Key: symbolScVal("b"), Val: bytesScVal(p.B)},
		{Key: symbolScVal("c"), Val: bytesScVal(p.C)},
	}
	m := &entries
	return xdr.ScVal{Type: xdr.ScValTypeScvMap, Map: &m}
}

func symbolScVal(s string) xdr.ScVal {
	sym := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sym}
}

func bytesScVal(b []byte) xdr.ScVal {
	sc := xdr.ScBytes(b)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &sc}
}
