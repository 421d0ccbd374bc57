// Package groth16 converts user-facing hex proof material into the canonical
// byte forms the voting contracts expect: BN254 scalar-field elements and
// uncompressed G1/G2 points. It is pure and does no I/O; every malformed
// input maps to exactly one of the exported errors.
package groth16

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Canonical widths in bytes.
const (
	FieldSize = 32
	G1Size    = 64
	G2Size    = 128
)

var (
	// ErrBadHex reports input that is not a hex string of acceptable width.
	ErrBadHex = errors.New("malformed hex string")
	// ErrFieldRange reports a value outside the BN254 scalar field.
	ErrFieldRange = errors.New("value exceeds the BN254 scalar field modulus")
	// ErrPointAtInfinity reports an all-zero curve point encoding.
	ErrPointAtInfinity = errors.New("proof component encodes the point at infinity")
)

// fieldModulus is the BN254 scalar-field order r.
var fieldModulus = fr.Modulus()

// stripHexPrefix removes an optional 0x/0X prefix and rejects anything that
// is not plain hex. Sign characters are rejected here so the big.Int parse
// below can never see a negative value.
func stripHexPrefix(s string) (string, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return "", ErrBadHex
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return "", ErrBadHex
		}
	}
	return s, nil
}

// EncodeField parses a hex string into a 32-byte big-endian field element.
// Short inputs are left-padded with zeros; values >= r fail with
// ErrFieldRange.
func EncodeField(h string) ([]byte, error) {
	s, err := stripHexPrefix(h)
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, ErrBadHex
	}
	if v.Cmp(fieldModulus) >= 0 {
		return nil, ErrFieldRange
	}
	out := make([]byte, FieldSize)
	v.FillBytes(out)
	return out, nil
}

// DecodeField renders a 32-byte field element back to its normalized hex
// form: lowercase, fully padded, no prefix. The fixed width keeps the string
// ordering identical to the numeric ordering.
func DecodeField(b []byte) string {
	padded := make([]byte, FieldSize)
	copy(padded[FieldSize-len(b):], b)
	return hex.EncodeToString(padded)
}

// encodePoint parses a hex string into a fixed-width big-endian buffer.
// Unlike field elements, point coordinates are not range-checked: curve and
// subgroup membership are the verifying host's job. All-zero buffers are the
// affine point at infinity and are rejected before submission.
func encodePoint(h string, size int) ([]byte, error) {
	s, err := stripHexPrefix(h)
	if err != nil {
		return nil, err
	}
	if len(s) > size*2 {
		return nil, ErrBadHex
	}
	padded := strings.Repeat("0", size*2-len(s)) + s
	out, err := hex.DecodeString(strings.ToLower(padded))
	if err != nil {
		return nil, ErrBadHex
	}
	if allZero(out) {
		return nil, ErrPointAtInfinity
	}
	return out, nil
}

// EncodeG1 parses an uncompressed G1 point, 64 bytes as be(X)||be(Y).
func EncodeG1(h string) ([]byte, error) {
	return encodePoint(h, G1Size)
}

// EncodeG2 parses an uncompressed G2 point, 128 bytes as
// be(X_c1)||be(X_c0)||be(Y_c1)||be(Y_c0), imaginary component first.
func EncodeG2(h string) ([]byte, error) {
	return encodePoint(h, G2Size)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
