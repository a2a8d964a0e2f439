package otlp

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"
)

// nanoThreshold splits epoch values by magnitude: anything at or above is
// taken as nanoseconds, anything below as milliseconds. 1e13 ms is year
// 2286, 1e13 ns is 1970; no plausible timestamp is ambiguous.
const nanoThreshold = 1e13

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func isZeroHex(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return s != ""
}

// normalizeID canonicalises a trace or span id to lowercase hex. Ids already
// in 16- or 32-character hex form are kept; anything else is treated as
// base64 and re-encoded. Undecodable ids normalise to the empty string, which
// batch validation then rejects.
func normalizeID(id string) string {
	if id == "" {
		return ""
	}
	if (len(id) == 16 || len(id) == 32) && isHex(id) {
		return strings.ToLower(id)
	}
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(raw)
}

// normalizeParent canonicalises a parent pointer. All-zero ids count as
// absent: most exporters populate parentSpanId with zero bytes on root spans
// instead of omitting the field.
func normalizeParent(id string) string {
	n := normalizeID(id)
	if isZeroHex(n) {
		return ""
	}
	return n
}

func idFromBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

func parentFromBytes(b []byte) string {
	allZero := true
	for _, c := range b {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return ""
	}
	return idFromBytes(b)
}

// epochMillis folds an epoch value of unknown unit to milliseconds.
func epochMillis(v float64) int64 {
	if v >= nanoThreshold {
		return int64(v / 1e6)
	}
	return int64(v)
}

// epochMillisInt is epochMillis for values that parsed as integers, keeping
// nanosecond timestamps exact where float64 cannot.
func epochMillisInt(v int64) int64 {
	if v >= nanoThreshold {
		return v / 1e6
	}
	return v
}

// parseISO accepts RFC 3339 timestamps, with or without fractional seconds.
func parseISO(s string) (int64, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}
