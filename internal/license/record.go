package license

import (
	"fmt"
	"strings"
	"time"
)

// Status is the derived state of a license. It is always recomputed from the
// stored record and the current time, never persisted or hand-set.
type Status string

const (
	StatusUnactivated Status = "unactivated"
	StatusActive      Status = "active"
	StatusGrace       Status = "grace"
	StatusExpired     Status = "expired"
	StatusRevoked     Status = "revoked"
)

// DefaultGracePeriod is the offline window applied when the server does not
// supply one.
const DefaultGracePeriod = 7 * 24 * time.Hour

// Key format constants. Keys are issued as LG plus 16 base32 characters and
// displayed grouped: LG-XXXX-XXXX-XXXX-XXXX.
const (
	KeyPrefix     = "LG"
	KeyBodyLength = 16
)

// Record is the persisted license credential. One record exists per
// installation; it is created on first successful activation, refreshed on
// every successful online validation, and destroyed on revocation. The key
// never changes after creation; renewing a license replaces the whole
// record.
type Record struct {
	Key             string    `json:"key"`
	ExpiresOn       time.Time `json:"expires_on"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	MachineID       string    `json:"machine_id"`
	GracePeriodMs   int64     `json:"grace_period_ms"`
}

// GracePeriod returns the record's offline window, falling back to
// DefaultGracePeriod when the server never supplied one.
func (r *Record) GracePeriod() time.Duration {
	if r == nil || r.GracePeriodMs <= 0 {
		return DefaultGracePeriod
	}
	return time.Duration(r.GracePeriodMs) * time.Millisecond
}

// Outcome is the ephemeral result of a license check. It is returned to the
// caller and never persisted.
type Outcome struct {
	IsValid    bool   `json:"is_valid"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
	WasOffline bool   `json:"was_offline"`
}

// RenewalInfo describes how close the license is to its expiry date.
type RenewalInfo struct {
	DaysLeft     int    `json:"days_left"`
	Status       Status `json:"status"`
	Message      string `json:"message"`
	NeedsRenewal bool   `json:"needs_renewal"`
	IsExpired    bool   `json:"is_expired"`
}

// NormalizeKey strips dashes and spaces and upper-cases a license key so the
// dashed display form and the raw form compare equal.
func NormalizeKey(key string) string {
	clean := strings.ReplaceAll(strings.ReplaceAll(key, "-", ""), " ", "")
	return strings.ToUpper(clean)
}

// ValidateKeyFormat checks that a key is LG plus 16 uppercase base32
// characters, accepting either the dashed or the raw form.
func ValidateKeyFormat(key string) error {
	clean := NormalizeKey(key)

	if !strings.HasPrefix(clean, KeyPrefix) {
		return fmt.Errorf("license key must start with %q", KeyPrefix)
	}

	if len(clean) != len(KeyPrefix)+KeyBodyLength {
		return fmt.Errorf("license key must be %d characters long (%s + %d characters)",
			len(KeyPrefix)+KeyBodyLength, KeyPrefix, KeyBodyLength)
	}

	for _, char := range clean[len(KeyPrefix):] {
		if !((char >= 'A' && char <= 'Z') || (char >= '2' && char <= '7')) {
			return fmt.Errorf("license key must contain only base32 characters (A-Z, 2-7)")
		}
	}

	return nil
}

// FormatKeyWithDashes renders a key in the grouped display form
// LG-XXXX-XXXX-XXXX-XXXX. Keys of unexpected length are returned unchanged.
func FormatKeyWithDashes(key string) string {
	clean := NormalizeKey(key)
	if len(clean) != len(KeyPrefix)+KeyBodyLength {
		return clean
	}

	return fmt.Sprintf("%s-%s-%s-%s-%s",
		clean[:2],
		clean[2:6],
		clean[6:10],
		clean[10:14],
		clean[14:18],
	)
}
