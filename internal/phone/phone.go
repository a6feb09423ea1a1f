// Package phone normalises subscriber phone numbers. Accounts store and are
// looked up by the E.164 form, so "0900000001", "090 000 0001" and
// "+84900000001" are the same account.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultRegion applies to numbers written without a country code.
const DefaultRegion = "VN"

var ErrInvalid = errors.New("invalid phone number")

// Normalize returns the E.164 form of raw.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalid
	}
	num, err := libphonenumber.Parse(raw, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", ErrInvalid
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
