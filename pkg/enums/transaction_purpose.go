package enums

import "fmt"

// TransactionPurpose identifies what a payment buys.
type TransactionPurpose string

const (
	TransactionPurposeMembership TransactionPurpose = "membership"
	TransactionPurposePostFee    TransactionPurpose = "post_fee"
	TransactionPurposeBoostFee   TransactionPurpose = "boost_fee"
	TransactionPurposePushFee    TransactionPurpose = "push_fee"
)

var validTransactionPurposes = []TransactionPurpose{
	TransactionPurposeMembership,
	TransactionPurposePostFee,
	TransactionPurposeBoostFee,
	TransactionPurposePushFee,
}

// String implements fmt.Stringer.
func (p TransactionPurpose) String() string {
	return string(p)
}

// IsValid reports whether the value is a known TransactionPurpose.
func (p TransactionPurpose) IsValid() bool {
	for _, candidate := range validTransactionPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseTransactionPurpose converts raw input into a TransactionPurpose.
func ParseTransactionPurpose(value string) (TransactionPurpose, error) {
	for _, candidate := range validTransactionPurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction purpose %q", value)
}
