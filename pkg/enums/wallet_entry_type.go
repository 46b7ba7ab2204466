package enums

import "fmt"

// WalletEntryType classifies a wallet ledger entry.
type WalletEntryType string

const (
	WalletEntryTypeCredit       WalletEntryType = "credit"
	WalletEntryTypeDebit        WalletEntryType = "debit"
	WalletEntryTypeRefundCredit WalletEntryType = "refund_credit"
)

var validWalletEntryTypes = []WalletEntryType{
	WalletEntryTypeCredit,
	WalletEntryTypeDebit,
	WalletEntryTypeRefundCredit,
}

// String implements fmt.Stringer.
func (t WalletEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known WalletEntryType.
func (t WalletEntryType) IsValid() bool {
	for _, candidate := range validWalletEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseWalletEntryType converts raw input into a WalletEntryType.
func ParseWalletEntryType(value string) (WalletEntryType, error) {
	for _, candidate := range validWalletEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet entry type %q", value)
}
