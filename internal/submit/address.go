// Package submit normalizes, deduplicates and submits mined blocks.
package submit

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Payout address rules: LUN_ prefix, at least 12 characters overall,
// word characters only.
const (
	AddressPrefix    = "LUN_"
	AddressMinLength = 12
)

var addressPattern = regexp.MustCompile(`^LUN_[A-Za-z0-9_]+$`)

// ValidateAddress checks a payout address against the required format.
// Mining and submission are blocked while the configured address fails.
func ValidateAddress(addr string) error {
	err := validation.Validate(addr,
		validation.Required,
		validation.Length(AddressMinLength, 0),
		validation.Match(addressPattern),
	)
	if err != nil {
		return fmt.Errorf("payout address %q: %v", addr, err)
	}
	return nil
}
