package cashout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"go-crash/internal/http-server/handlers/game/cashout"
	"go-crash/internal/round"
)

type stubCasher struct {
	result *round.CashoutResult
	err    error
}

func (s *stubCasher) Cashout(context.Context, int64) (*round.CashoutResult, error) {
	return s.result, s.err
}

func perform(t *testing.T, casher *stubCasher, body string) map[string]interface{} {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := cashout.New(log, casher).New()

	req := httptest.NewRequest(http.MethodPost, "/api/crash/cashout", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()

	handler(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))

	return decoded
}

func TestCashoutOK(t *testing.T) {
	casher := &stubCasher{
		result: &round.CashoutResult{
			RoundID: "round-1",
			Coef:    250,
			Bet:     10000,
			Payout:  25000,
			Win:     15000,
		},
	}

	decoded := perform(t, casher, `{"user_id": 42}`)

	assert.EqualValues(t, http.StatusOK, decoded["status"])
	assert.Equal(t, "2.50", decoded["coefficient"])
	assert.Equal(t, "250.00", decoded["payout"])
	assert.Equal(t, "150.00", decoded["win"])
}

func TestCashoutErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not playing", round.ErrRoundNotPlaying, http.StatusConflict},
		{"no stake", round.ErrNoStake, http.StatusNotFound},
		{"already cashed out", round.ErrAlreadyCashedOut, http.StatusConflict},
		{"too early", round.ErrTooEarly, http.StatusConflict},
		{"post crash", round.ErrPostCrash, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded := perform(t, &stubCasher{err: tc.err}, `{"user_id": 42}`)

			assert.EqualValues(t, tc.status, decoded["status"])
			assert.NotEmpty(t, decoded["error"])
		})
	}
}

func TestCashoutRejectsMissingUser(t *testing.T) {
	decoded := perform(t, &stubCasher{}, `{}`)

	assert.EqualValues(t, http.StatusBadRequest, decoded["status"])
}
