package enums

import "fmt"

// PackageLevel is the tier of a membership package.
type PackageLevel string

const (
	PackageLevelSilver  PackageLevel = "silver"
	PackageLevelGold    PackageLevel = "gold"
	PackageLevelDiamond PackageLevel = "diamond"
)

var validPackageLevels = []PackageLevel{
	PackageLevelSilver,
	PackageLevelGold,
	PackageLevelDiamond,
}

// String implements fmt.Stringer.
func (l PackageLevel) String() string {
	return string(l)
}

// IsValid reports whether the value is a known PackageLevel.
func (l PackageLevel) IsValid() bool {
	for _, candidate := range validPackageLevels {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParsePackageLevel converts raw input into a PackageLevel.
func ParsePackageLevel(value string) (PackageLevel, error) {
	for _, candidate := range validPackageLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid package level %q", value)
}
