package enums

import "fmt"

// QuotaStatus tracks whether a quota balance row can still be consumed.
type QuotaStatus string

const (
	QuotaStatusActive  QuotaStatus = "active"
	QuotaStatusExpired QuotaStatus = "expired"
)

var validQuotaStatuses = []QuotaStatus{
	QuotaStatusActive,
	QuotaStatusExpired,
}

// String implements fmt.Stringer.
func (s QuotaStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known QuotaStatus.
func (s QuotaStatus) IsValid() bool {
	for _, candidate := range validQuotaStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseQuotaStatus converts raw input into a QuotaStatus.
func ParseQuotaStatus(value string) (QuotaStatus, error) {
	for _, candidate := range validQuotaStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quota status %q", value)
}
