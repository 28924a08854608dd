// Package mac canonicalises hardware addresses reported by booting machines.
package mac

import "strings"

const (
	octets       = 6
	bareLen      = octets * 2
	separatedLen = octets*3 - 1
)

// Normalize returns the canonical lowercase, colon separated form of raw.
//
// Accepted inputs are six pairs of hex digits either contiguous
// ("aabbccddeeff") or separated uniformly by ':' or '-'. Surrounding
// whitespace is ignored. The second return value is false when raw is not
// a valid 6-octet address.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)

	var stride int
	switch len(s) {
	case bareLen:
		stride = 2
	case separatedLen:
		stride = 3
		sep := s[2]
		if sep != ':' && sep != '-' {
			return "", false
		}
		for i := 1; i < octets; i++ {
			if s[i*3-1] != sep {
				return "", false
			}
		}
	default:
		return "", false
	}

	var b strings.Builder
	b.Grow(separatedLen)
	for i := 0; i < octets; i++ {
		hi, lo := s[i*stride], s[i*stride+1]
		if !isHex(hi) || !isHex(lo) {
			return "", false
		}
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteByte(lower(hi))
		b.WriteByte(lower(lo))
	}
	return b.String(), true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'F' {
		return c + ('a' - 'A')
	}
	return c
}
