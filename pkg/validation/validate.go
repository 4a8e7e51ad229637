package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"campuschat/pkg/models"
)

// Rules holds the configurable limits applied to incoming chat payloads.
// Limits are set once at startup from config.
type Rules struct {
	// MaxContentLen bounds message content length in runes. Zero means the
	// default of 4096.
	MaxContentLen int
}

var rules = Rules{MaxContentLen: 4096}

// SetRules installs the active validation limits.
func SetRules(r Rules) {
	if r.MaxContentLen <= 0 {
		r.MaxContentLen = 4096
	}
	rules = r
}

// NormalizeContent trims surrounding whitespace from message content. An
// empty result means the send should be skipped, not rejected.
func NormalizeContent(content string) string {
	return strings.TrimSpace(content)
}

// ValidateContent checks an already-normalized, non-empty content string
// against the configured limits.
func ValidateContent(content string) error {
	if n := utf8.RuneCountInString(content); n > rules.MaxContentLen {
		return fmt.Errorf("content too long: %d > %d", n, rules.MaxContentLen)
	}
	return nil
}

// ValidateReference checks a thread origin reference.
func ValidateReference(ref models.Reference) error {
	if !ref.Kind.Valid() {
		return fmt.Errorf("invalid reference kind: %q", ref.Kind)
	}
	if strings.TrimSpace(ref.ID) == "" {
		return fmt.Errorf("reference id is required")
	}
	return nil
}

// ValidatePair checks the participant pair handed to the directory.
func ValidatePair(initiator, counterpart string) error {
	if strings.TrimSpace(counterpart) == "" {
		return fmt.Errorf("counterpart id is required")
	}
	if initiator == counterpart {
		return fmt.Errorf("initiator and counterpart must differ")
	}
	return nil
}
