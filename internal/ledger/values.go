package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
)

// AsBool coerces a read result to bool.
func AsBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case *bool:
		if b != nil {
			return *b, nil
		}
	}
	return false, fmt.Errorf("unexpected %T, want bool", v)
}

// AsUint64 coerces a read result to uint64. Values above 2^64-1 are rejected.
func AsUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil || n.Sign() < 0 || !n.IsUint64() {
			return 0, fmt.Errorf("integer %v out of range", n)
		}
		return n.Uint64(), nil
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative integer %d", n)
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative integer %d", n)
		}
		return uint64(n), nil
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case string:
		return strconv.ParseUint(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected %T, want integer", v)
}

// AsStrings coerces a read result to a string slice.
func AsStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		out := make([]string, len(s))
		copy(out, s)
		return out, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, it := range s {
			str, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected element %T, want string", it)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected %T, want []string", v)
}

// Uint256 converts a uint64 argument to the *big.Int form used for uint256
// contract parameters.
func Uint256(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
