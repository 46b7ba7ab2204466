package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/smartrent/smartrent-backend/pkg/enums"
	apperrors "github.com/smartrent/smartrent-backend/pkg/errors"
)

// All prices are VND. Amounts are computed server-side from purpose metadata
// and never trusted from callers or provider callbacks.

const DefaultCurrency = "VND"

const (
	Duration10Days = 10
	Duration15Days = 15
	Duration30Days = 30
)

var (
	normalPostPerDay  = decimal.NewFromInt(2700)
	silverPostPerDay  = decimal.NewFromInt(50000)
	goldPostPerDay    = decimal.NewFromInt(110000)
	diamondPostPerDay = decimal.NewFromInt(280000)

	pushPerTime  = decimal.NewFromInt(40000)
	boostPerTime = decimal.NewFromInt(40000)

	discount15Days = decimal.NewFromFloat(0.11)
	discount30Days = decimal.NewFromFloat(0.185)
)

// PostFee returns the listing post price for a tier and duration. Discounts
// apply at 15 and 30 days; the result is rounded half-up to whole VND.
func PostFee(vipType enums.VipType, days int) (decimal.Decimal, error) {
	if days <= 0 {
		return decimal.Zero, apperrors.New(apperrors.CodeValidation, "duration must be positive")
	}

	perDay, err := postPerDay(vipType)
	if err != nil {
		return decimal.Zero, err
	}

	total := perDay.Mul(decimal.NewFromInt(int64(days)))
	discount := discountForDuration(days)
	if !discount.IsZero() {
		total = total.Sub(total.Mul(discount))
	}
	return total.Round(0), nil
}

// PushFee returns the price for the given number of push actions.
func PushFee(times int) (decimal.Decimal, error) {
	if times <= 0 {
		return decimal.Zero, apperrors.New(apperrors.CodeValidation, "push count must be positive")
	}
	return pushPerTime.Mul(decimal.NewFromInt(int64(times))), nil
}

// BoostFee returns the price for the given number of boost applications.
func BoostFee(times int) (decimal.Decimal, error) {
	if times <= 0 {
		return decimal.Zero, apperrors.New(apperrors.CodeValidation, "boost count must be positive")
	}
	return boostPerTime.Mul(decimal.NewFromInt(int64(times))), nil
}

func postPerDay(vipType enums.VipType) (decimal.Decimal, error) {
	switch vipType {
	case enums.VipTypeNormal:
		return normalPostPerDay, nil
	case enums.VipTypeSilver:
		return silverPostPerDay, nil
	case enums.VipTypeGold:
		return goldPostPerDay, nil
	case enums.VipTypeDiamond:
		return diamondPostPerDay, nil
	default:
		return decimal.Zero, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown vip type %q", vipType))
	}
}

func discountForDuration(days int) decimal.Decimal {
	switch days {
	case Duration30Days:
		return discount30Days
	case Duration15Days:
		return discount15Days
	default:
		return decimal.Zero
	}
}
