// Package token mints and checks the download tokens handed out by the gate.
//
// A token is the URL-safe base64 form (padding stripped) of
// "fileId|issuedAtEpochSeconds|requesterIdentity". Tokens are not signed: anyone
// who knows the three fields can build one, so the only protection is the
// identity binding and the short validity window. A pipe inside the identity
// is not escaped and makes the token unverifiable.
package token

import (
	"encoding/base64"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxLength is the longest token Verify will look at.
	MaxLength = 128

	// DefaultValidity is used when no validity period is configured.
	DefaultValidity = 600 * time.Second

	separator = "|"
)

var encoding = base64.URLEncoding

// Encode builds the token for a download of fileId issued at issuedAt to identity.
func Encode(fileId int64, issuedAt time.Time, identity string) string {
	fields := strings.Join([]string{
		strconv.FormatInt(fileId, 10),
		strconv.FormatFloat(epochSeconds(issuedAt), 'f', -1, 64),
		identity,
	}, separator)

	return strings.TrimRight(encoding.EncodeToString(asciiOnly([]byte(fields))), "=")
}

// Verify reports whether tok was issued for fileId to identity no more than
// window before now. Every malformed, foreign, expired or future-dated token
// yields false; the reason is deliberately not reported.
func Verify(tok string, fileId int64, identity string, now time.Time, window time.Duration) bool {
	if len(tok) > MaxLength {
		return false
	}

	parts := strings.Split(decode(tok), separator)
	if len(parts) != 3 {
		return false
	}

	if parts[0] != strconv.FormatInt(fileId, 10) || parts[2] != identity {
		return false
	}

	issuedAt, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || math.IsNaN(issuedAt) || math.IsInf(issuedAt, 0) {
		return false
	}

	delta := epochSeconds(now) - issuedAt
	if delta < 0 || delta > window.Seconds() {
		return false
	}

	return true
}

// decode re-pads tok and decodes it, keeping whatever was decoded before the
// first corrupt byte and dropping anything outside ASCII.
func decode(tok string) string {
	if rem := len(tok) % 4; rem != 0 {
		tok += strings.Repeat("=", 4-rem)
	}

	buf := make([]byte, encoding.DecodedLen(len(tok)))
	n, _ := encoding.Decode(buf, []byte(tok))

	return string(asciiOnly(buf[:n]))
}

func asciiOnly(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c < 0x80 {
			out = append(out, c)
		}
	}

	return out
}

// epochSeconds is the unix time of t with sub-second precision. Encode and
// Verify must share it so a token checked at its own issue instant has age 0.
func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
