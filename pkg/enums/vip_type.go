package enums

import "fmt"

// VipType is the visibility tier of a paid listing.
type VipType string

const (
	VipTypeNormal  VipType = "normal"
	VipTypeSilver  VipType = "silver"
	VipTypeGold    VipType = "gold"
	VipTypeDiamond VipType = "diamond"
)

var validVipTypes = []VipType{
	VipTypeNormal,
	VipTypeSilver,
	VipTypeGold,
	VipTypeDiamond,
}

// String implements fmt.Stringer.
func (v VipType) String() string {
	return string(v)
}

// IsValid reports whether the value is a known VipType.
func (v VipType) IsValid() bool {
	for _, candidate := range validVipTypes {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVipType converts raw input into a VipType.
func ParseVipType(value string) (VipType, error) {
	for _, candidate := range validVipTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vip type %q", value)
}
