// Package cachekey provides deterministic cache key derivation.
// All functions are pure - identical logical inputs always produce the
// same key regardless of map insertion order.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
)

// Hash derives a stable hex key from an ordered tuple of key parts.
// Parts may be strings, booleans, integers, floats, nil, nested slices,
// or maps with string keys. Map entries are serialized in sorted key
// order so field insertion order never changes the hash.
func Hash(parts ...any) string {
	h := sha256.New()
	for i, p := range parts {
		// Separator between parts prevents ("ab","c") colliding with ("a","bc").
		fmt.Fprintf(h, "%d|", i)
		writeCanonical(h, p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(h interface{ Write([]byte) (int, error) }, v any) {
	switch x := v.(type) {
	case nil:
		h.Write([]byte("nil"))
	case string:
		h.Write([]byte("s:"))
		h.Write([]byte(x))
	case bool:
		h.Write([]byte("b:" + strconv.FormatBool(x)))
	case int:
		h.Write([]byte("i:" + strconv.FormatInt(int64(x), 10)))
	case int32:
		h.Write([]byte("i:" + strconv.FormatInt(int64(x), 10)))
	case int64:
		h.Write([]byte("i:" + strconv.FormatInt(x, 10)))
	case uint64:
		h.Write([]byte("u:" + strconv.FormatUint(x, 10)))
	case float32:
		h.Write([]byte("f:" + strconv.FormatFloat(float64(x), 'g', -1, 32)))
	case float64:
		h.Write([]byte("f:" + strconv.FormatFloat(x, 'g', -1, 64)))
	case []byte:
		h.Write([]byte("y:"))
		h.Write(x)
	case []any:
		h.Write([]byte("l:["))
		for _, e := range x {
			writeCanonical(h, e)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	case []string:
		h.Write([]byte("l:["))
		for _, e := range x {
			writeCanonical(h, e)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte("m:{"))
		for _, k := range keys {
			writeCanonical(h, k)
			h.Write([]byte{'='})
			writeCanonical(h, x[k])
			h.Write([]byte{','})
		}
		h.Write([]byte{'}'})
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		h.Write([]byte("m:{"))
		for _, k := range keys {
			writeCanonical(h, k)
			h.Write([]byte{'='})
			writeCanonical(h, x[k])
			h.Write([]byte{','})
		}
		h.Write([]byte{'}'})
	default:
		// Last resort for unanticipated types. %#v includes the type name,
		// which keeps distinct types from colliding.
		fmt.Fprintf(h, "v:%#v", x)
	}
}
