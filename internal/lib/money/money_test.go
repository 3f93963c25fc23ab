package money

import "testing"

func TestPayout(t *testing.T) {
	cases := []struct {
		name    string
		bet     Amount
		coef    Coef
		payout  Amount
		win     Amount
		display string
	}{
		{
			name:    "WholeCents",
			bet:     10000, // 100.00
			coef:    250,   // 2.50x
			payout:  25000, // 250.00
			win:     15000, // 150.00
			display: "250.00",
		},
		{
			name:   "FloorsFractionalCents",
			bet:    333, // 3.33
			coef:   150, // 1.50x
			payout: 499, // 4.995 floored to 4.99
			win:    166,
		},
		{
			name:   "CoefOneIsBreakEven",
			bet:    5000,
			coef:   CoefOne,
			payout: 5000,
			win:    0,
		},
		{
			name:   "SmallBetHighCoef",
			bet:    1,    // 0.01
			coef:   9999, // 99.99x
			payout: 99,   // 0.9999 floored to 0.99
			win:    98,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := Payout(tc.bet, tc.coef); got != tc.payout {
				t.Errorf("unexpected payout, want: %d, got: %d", tc.payout, got)
			}

			if got := Win(tc.bet, tc.coef); got != tc.win {
				t.Errorf("unexpected win, want: %d, got: %d", tc.win, got)
			}

			if tc.display != "" {
				if got := Payout(tc.bet, tc.coef).String(); got != tc.display {
					t.Errorf("unexpected display, want: %s, got: %s", tc.display, got)
				}
			}
		})
	}
}

func TestAmountString(t *testing.T) {
	cases := []struct {
		name   string
		amount Amount
		want   string
	}{
		{
			name:   "Success",
			amount: 123,
			want:   "1.23",
		},
		{
			name:   "Zero",
			amount: 0,
			want:   "0.00",
		},
		{
			name:   "Negative",
			amount: -123,
			want:   "-1.23",
		},
		{
			name:   "PadsCents",
			amount: 5005,
			want:   "50.05",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.amount.String(); got != tc.want {
				t.Errorf("unexpected result, want: %s, got: %s", tc.want, got)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("50.00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != 5000 {
		t.Errorf("unexpected result, want: 5000, got: %d", got)
	}

	if _, err = ParseAmount("not-a-number"); err == nil {
		t.Error("expected error for malformed amount")
	}
}

func TestCoefFromFloatFloors(t *testing.T) {
	if got := CoefFromFloat(1.104622); got != 110 {
		t.Errorf("unexpected result, want: 110, got: %d", got)
	}

	if got := CoefFromFloat(1.999999); got != 199 {
		t.Errorf("unexpected result, want: 199, got: %d", got)
	}
}
