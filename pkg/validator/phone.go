package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrInvalidLength indicates the number has too few or too many digits
	ErrInvalidLength = errors.New("phone number must have 8 to 15 digits")

	// ErrInvalidPrefix indicates a local number without a Sri Lankan mobile prefix
	ErrInvalidPrefix = errors.New("local phone number must start with 070, 071, 072, 075, 076, 077 or 078")
)

// localPrefixes contains Sri Lankan mobile operator prefixes accepted without a country code
var localPrefixes = map[string]string{
	"070": "Mobitel",
	"071": "Mobitel",
	"072": "Hutch",
	"075": "Airtel",
	"076": "Dialog",
	"077": "Dialog",
	"078": "Hutch",
}

var digitsRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalizes participant and contact phone numbers to E.164.
// Local Sri Lankan mobile numbers are accepted without a country code;
// anything else must be given in international form.
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Normalize validates a phone number and returns it in E.164 form.
// Accepts 0771234567, 077 123 4567, 94771234567, +44 20 7946 0958
func (v *PhoneValidator) Normalize(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	international := strings.HasPrefix(strings.TrimSpace(phone), "+")
	digits := v.Sanitize(phone)
	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}

	switch {
	case international:
		// already has a country code
	case strings.HasPrefix(digits, "0"):
		if len(digits) != 10 {
			return "", ErrInvalidLength
		}
		if _, ok := localPrefixes[digits[:3]]; !ok {
			return "", ErrInvalidPrefix
		}
		digits = "94" + digits[1:]
	case strings.HasPrefix(digits, "94") && len(digits) == 11:
		if _, ok := localPrefixes["0"+digits[2:4]]; !ok {
			return "", ErrInvalidPrefix
		}
	default:
		return "", ErrInvalidFormat
	}

	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidLength
	}
	return "+" + digits, nil
}

// Sanitize removes separators and the leading + from a phone number
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Normalize(phone)
	return err == nil
}

// Operator returns the Sri Lankan mobile operator for a local number, or "" for
// foreign numbers
func (v *PhoneValidator) Operator(phone string) string {
	normalized, err := v.Normalize(phone)
	if err != nil || !strings.HasPrefix(normalized, "+94") || len(normalized) != 12 {
		return ""
	}
	return localPrefixes["0"+normalized[3:5]]
}
