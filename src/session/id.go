package session

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const maxIDLength = 64

// legacyIDPattern is the broader character class from spec.md §3: printable
// ASCII drawn from [0-9a-zA-Z_-], 1..64 bytes. A canonical UUID string is
// itself a member of this class, so — matching the lenient policy the
// original C validator fell into by accident (spec.md §9, Open Question ii)
// — this single check is sufficient to accept both shapes. We keep
// IsCanonicalUUID separate for callers that care about the distinction
// (logging, stats) without making it a gate on validity.
var legacyIDPattern = regexp.MustCompile(`^[0-9a-zA-Z_-]{1,64}$`)

// GenerateID returns a new canonical UUID-shaped (v4) session id.
func GenerateID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails if the system CSPRNG is unreadable.
		// Rather than leave the caller without an id (the intent behind the
		// original C fallback), fall back to a legacy-shaped id built from
		// wall-clock time and pid.
		return fmt.Sprintf("session-%x-%x", time.Now().UnixNano(), os.Getpid())
	}
	return id.String()
}

// ValidateID reports whether id is an acceptable session identifier:
// 1..64 bytes drawn from [0-9a-zA-Z_-]. Both the canonical UUID shape and
// the broader legacy shape are accepted, per spec.md §3.
func ValidateID(id string) bool {
	if len(id) == 0 || len(id) > maxIDLength {
		return false
	}
	return legacyIDPattern.MatchString(id)
}

// IsCanonicalUUID reports whether id is exactly the 36-char, lowercase-hex,
// hyphen-at-8-13-18-23 UUID shape described in spec.md §3. Informational
// only — it does not gate ValidateID.
func IsCanonicalUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	for i, c := range id {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
			continue
		}
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
