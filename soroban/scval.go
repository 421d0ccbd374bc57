package soroban

import (
	"encoding/hex"
	"fmt"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Constructors for the ScVal argument shapes the voting contracts take.

// U32Val wraps a uint32.
func U32Val(v uint32) xdr.ScVal {
	u := xdr.Uint32(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}
}

// U64Val wraps a uint64.
func U64Val(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

// BoolVal wraps a bool.
func BoolVal(v bool) xdr.ScVal {
	b := v
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &b}
}

// BytesVal wraps a byte slice.
func BytesVal(v []byte) xdr.ScVal {
	b := xdr.ScBytes(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &b}
}

// StringVal wraps a string.
func StringVal(v string) xdr.ScVal {
	s := xdr.ScString(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &s}
}

// SymbolVal wraps a symbol.
func SymbolVal(v string) xdr.ScVal {
	s := xdr.ScSymbol(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &s}
}

// VoidVal is the unit value; optional contract arguments pass it for None.
func VoidVal() xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvVoid}
}

// ContractAddress converts a C... strkey contract id into an ScAddress.
func ContractAddress(contractID string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("failed to decode contract id %q: %w", contractID, err)
	}
	var id xdr.ContractId
	copy(id[:], raw)
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &id}, nil
}

// Accessors used when decoding contract return values and event topics.

// ScValUint64 extracts an unsigned integer from a U32 or U64 value.
func ScValUint64(val xdr.ScVal) (uint64, bool) {
	switch val.Type {
	case xdr.ScValTypeScvU32:
		if val.U32 == nil {
			return 0, false
		}
		return uint64(*val.U32), true
	case xdr.ScValTypeScvU64:
		if val.U64 == nil {
			return 0, false
		}
		return uint64(*val.U64), true
	default:
		return 0, false
	}
}

// ScValString extracts a string or symbol value.
func ScValString(val xdr.ScVal) (string, bool) {
	switch val.Type {
	case xdr.ScValTypeScvString:
		if val.Str == nil {
			return "", false
		}
		return string(*val.Str), true
	case xdr.ScValTypeScvSymbol:
		if val.Sym == nil {
			return "", false
		}
		return string(*val.Sym), true
	default:
		return "", false
	}
}

// ScValBool extracts a bool value.
func ScValBool(val xdr.ScVal) (bool, bool) {
	if val.Type != xdr.ScValTypeScvBool || val.B == nil {
		return false, false
	}
	return *val.B, true
}

// ScValAddress extracts an address value rendered as strkey.
func ScValAddress(val xdr.ScVal) (string, bool) {
	if val.Type != xdr.ScValTypeScvAddress || val.Address == nil {
		return "", false
	}
	s, err := scAddressString(*val.Address)
	if err != nil {
		return "", false
	}
	return s, true
}

// ScValMap flattens a symbol- or string-keyed map into a Go map.
func ScValMap(val xdr.ScVal) (map[string]xdr.ScVal, bool) {
	if val.Type != xdr.ScValTypeScvMap || val.Map == nil || *val.Map == nil {
		return nil, false
	}
	out := make(map[string]xdr.ScVal, len(**val.Map))
	for _, entry := range **val.Map {
		key, ok := ScValString(entry.Key)
		if !ok {
			return nil, false
		}
		out[key] = entry.Val
	}
	return out, true
}

// ScValVec extracts the elements of a vector value.
func ScValVec(val xdr.ScVal) ([]xdr.ScVal, bool) {
	if val.Type != xdr.ScValTypeScvVec || val.Vec == nil || *val.Vec == nil {
		return nil, false
	}
	return **val.Vec, true
}

func scAddressString(addr xdr.ScAddress) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("account address has nil account id")
		}
		return addr.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", fmt.Errorf("contract address has nil contract id")
		}
		return strkey.Encode(strkey.VersionByteContract, (*addr.ContractId)[:])
	default:
		return "", fmt.Errorf("unsupported address type %v", addr.Type)
	}
}

// ScValToAny renders a contract value as plain Go data suitable for JSON
// event payloads. Unrepresentable types degrade to strings rather than
// failing: payloads are opaque to the relayer.
func ScValToAny(val xdr.ScVal) any {
	switch val.Type {
	case xdr.ScValTypeScvVoid:
		return nil
	case xdr.ScValTypeScvBool:
		if val.B == nil {
			return nil
		}
		return *val.B
	case xdr.ScValTypeScvU32:
		if val.U32 == nil {
			return nil
		}
		return uint32(*val.U32)
	case xdr.ScValTypeScvI32:
		if val.I32 == nil {
			return nil
		}
		return int32(*val.I32)
	case xdr.ScValTypeScvU64:
		if val.U64 == nil {
			return nil
		}
		return uint64(*val.U64)
	case xdr.ScValTypeScvI64:
		if val.I64 == nil {
			return nil
		}
		return int64(*val.I64)
	case xdr.ScValTypeScvTimepoint:
		if val.Timepoint == nil {
			return nil
		}
		return uint64(*val.Timepoint)
	case xdr.ScValTypeScvDuration:
		if val.Duration == nil {
			return nil
		}
		return uint64(*val.Duration)
	case xdr.ScValTypeScvBytes:
		if val.Bytes == nil {
			return nil
		}
		return hex.EncodeToString(*val.Bytes)
	case xdr.ScValTypeScvString:
		if val.Str == nil {
			return nil
		}
		return string(*val.Str)
	case xdr.ScValTypeScvSymbol:
		if val.Sym == nil {
			return nil
		}
		return string(*val.Sym)
	case xdr.ScValTypeScvAddress:
		if val.Address == nil {
			return nil
		}
		s, err := scAddressString(*val.Address)
		if err != nil {
			return fmt.Sprintf("%v", val.Address)
		}
		return s
	case xdr.ScValTypeScvVec:
		elems, ok := ScValVec(val)
		if !ok {
			return nil
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			out = append(out, ScValToAny(e))
		}
		return out
	case xdr.ScValTypeScvMap:
		if val.Map == nil || *val.Map == nil {
			return nil
		}
		out := make(map[string]any, len(**val.Map))
		for _, entry := range **val.Map {
			key, ok := ScValString(entry.Key)
			if !ok {
				key = fmt.Sprintf("%v", ScValToAny(entry.Key))
			}
			out[key] = ScValToAny(entry.Val)
		}
		return out
	default:
		// 128/256-bit integers and exotic types: fall back to the raw
		// XDR so nothing is silently dropped.
		b64, err := xdr.MarshalBase64(val)
		if err != nil {
			return val.Type.String()
		}
		return b64
	}
}
