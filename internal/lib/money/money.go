package money

import (
	"fmt"
	"math"
	"strconv"
)

// Amount is a money value in cents. All payout arithmetic stays in
// integers so results are exact.
type Amount int64

// Coef is a multiplier in hundredths: 1.00x == 100, 2.50x == 250.
type Coef int64

const (
	CoefOne Coef = 100
)

func AmountFromFloat(amount float64) Amount {
	return Amount(math.Round(amount * 100))
}

func CoefFromFloat(coef float64) Coef {
	// Quantized down to 2 decimal places, never up.
	return Coef(math.Floor(coef * 100))
}

func ParseAmount(s string) (Amount, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("money.ParseAmount: %w", err)
	}

	return AmountFromFloat(f), nil
}

func ParseCoef(s string) (Coef, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("money.ParseCoef: %w", err)
	}

	return CoefFromFloat(f), nil
}

func (a Amount) Float64() float64 {
	return float64(a) / 100
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}

	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (c Coef) Float64() float64 {
	return float64(c) / 100
}

func (c Coef) String() string {
	return fmt.Sprintf("%d.%02d", int64(c)/100, int64(c)%100)
}

// Payout is the total a player receives for a stake cashed out at coef:
// floor(bet * coef, 2dp) done in integer cents.
func Payout(bet Amount, coef Coef) Amount {
	return Amount(int64(bet) * int64(coef) / 100)
}

// Win is the net profit of a cashout: payout minus the bet already debited
// at join time.
func Win(bet Amount, coef Coef) Amount {
	return Payout(bet, coef) - bet
}
