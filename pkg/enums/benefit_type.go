package enums

import "fmt"

// BenefitType identifies a consumable membership allowance.
type BenefitType string

const (
	BenefitTypePostSilver  BenefitType = "post_silver"
	BenefitTypePostGold    BenefitType = "post_gold"
	BenefitTypePostDiamond BenefitType = "post_diamond"
	BenefitTypePush        BenefitType = "push"
	BenefitTypeBoost       BenefitType = "boost"
)

var validBenefitTypes = []BenefitType{
	BenefitTypePostSilver,
	BenefitTypePostGold,
	BenefitTypePostDiamond,
	BenefitTypePush,
	BenefitTypeBoost,
}

// String implements fmt.Stringer.
func (b BenefitType) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BenefitType.
func (b BenefitType) IsValid() bool {
	for _, candidate := range validBenefitTypes {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBenefitType converts raw input into a BenefitType.
func ParseBenefitType(value string) (BenefitType, error) {
	for _, candidate := range validBenefitTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid benefit type %q", value)
}

// AllBenefitTypes returns every known benefit type.
func AllBenefitTypes() []BenefitType {
	out := make([]BenefitType, len(validBenefitTypes))
	copy(out, validBenefitTypes)
	return out
}
