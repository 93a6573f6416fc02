// Package idemkey derives the idempotency keys passed to the booking
// platform's payments API. The platform rejects keys longer than 45
// characters, so keys are a compact hash of the inputs rather than a
// concatenation.
package idemkey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// MaxLen is the hard length cap the platform enforces on idempotency keys.
const MaxLen = 45

const prefix = "rp-"

// Build derives a deterministic, URL- and header-safe key from the ordered
// segments and the monetary amount in cents. Equal inputs always produce the
// same key; the key never exceeds MaxLen.
//
// Callers must pass only stable inputs (correlation id, stage name, amount).
// A non-deterministic segment such as the current time silently destroys the
// retry-safety this key exists to provide.
func Build(segments []string, amountCents int64) string {
	h := sha256.New()
	for _, s := range segments {
		h.Write([]byte(s))
		// separator keeps ["ab","c"] distinct from ["a","bc"]
		h.Write([]byte{0x1f})
	}
	h.Write([]byte(strconv.FormatInt(amountCents, 10)))

	sum := hex.EncodeToString(h.Sum(nil))
	key := prefix + sum
	if len(key) > MaxLen {
		key = key[:MaxLen]
	}
	return key
}

// ForStage builds the key every stage handler uses for create-type platform
// calls: the run's correlation id, the stage name, and the amount.
func ForStage(correlationID, stage string, amountCents int64) string {
	return Build([]string{correlationID, stage}, amountCents)
}

// Safe reports whether key is acceptable to the platform: non-empty, within
// the cap, and free of characters that need escaping.
func Safe(key string) bool {
	if key == "" || len(key) > MaxLen {
		return false
	}
	return !strings.ContainsFunc(key, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '-' || r == '_' || r == '.':
			return false
		}
		return true
	})
}
