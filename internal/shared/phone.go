package shared

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// DefaultPhoneRegion is used when a number is written without a country code.
const DefaultPhoneRegion = "IN"

// PhoneCheck is the typed outcome of phone validation.
type PhoneCheck struct {
	Valid  bool
	E164   string
	Reason string
}

// CheckPhone parses raw with libphonenumber. Numbers without a leading '+' are
// interpreted in region.
func CheckPhone(raw, region string) PhoneCheck {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PhoneCheck{Reason: "phone number missing"}
	}
	if region == "" {
		region = DefaultPhoneRegion
	}
	num, err := libphonenumber.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return PhoneCheck{Reason: err.Error()}
	}
	if !libphonenumber.IsValidNumber(num) {
		return PhoneCheck{Reason: "phone number is not valid"}
	}
	return PhoneCheck{Valid: true, E164: libphonenumber.Format(num, libphonenumber.E164)}
}

// NormalizePhone returns the E.164 form of raw. An empty input stays empty.
func NormalizePhone(raw, region string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	check := CheckPhone(raw, region)
	if !check.Valid {
		return "", Invalid("phone", "%s", check.Reason)
	}
	return check.E164, nil
}
