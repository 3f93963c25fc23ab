package cashout

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	resp "go-crash/internal/lib/api/response"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/round"
	"golang.org/x/exp/slog"
)

type Request struct {
	UserID int64 `json:"user_id" validate:"required,min=1"`
}

type Response struct {
	resp.Response
	Coefficient string `json:"coefficient,omitempty"`
	Payout      string `json:"payout,omitempty"`
	Win         string `json:"win,omitempty"`
}

type Casher interface {
	Cashout(ctx context.Context, userID int64) (*round.CashoutResult, error)
}

type Cashout struct {
	log       *slog.Logger
	validator *validator.Validate
	casher    Casher
}

func New(log *slog.Logger, casher Casher) *Cashout {
	return &Cashout{
		log:       log,
		validator: validator.New(),
		casher:    casher,
	}
}

func (h *Cashout) New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.game.cashout.New"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.JSON(w, r, resp.Error("failed to decode request body", http.StatusBadRequest))

			return
		}

		if err := h.validator.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("invalid request", sl.Err(err))

			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		result, err := h.casher.Cashout(r.Context(), req.UserID)
		if err != nil {
			log.Error("failed to cash out", sl.Err(err))

			render.JSON(w, r, cashoutError(err))

			return
		}

		log.Info("cashed out",
			slog.Int64("user_id", req.UserID),
			slog.String("coefficient", result.Coef.String()),
			slog.String("payout", result.Payout.String()))

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			Coefficient: result.Coef.String(),
			Payout:      result.Payout.String(),
			Win:         result.Win.String(),
		})
	}
}

func cashoutError(err error) resp.Response {
	switch {
	case errors.Is(err, round.ErrRoundNotPlaying):
		return resp.Error("round is not playing", http.StatusConflict)
	case errors.Is(err, round.ErrNoStake):
		return resp.Error("no stake in this round", http.StatusNotFound)
	case errors.Is(err, round.ErrAlreadyCashedOut):
		return resp.Error("stake already cashed out", http.StatusConflict)
	case errors.Is(err, round.ErrTooEarly):
		return resp.Error("cashout not open yet", http.StatusConflict)
	case errors.Is(err, round.ErrPostCrash):
		return resp.Error("round already crashed", http.StatusConflict)
	case errors.Is(err, round.ErrConflict):
		return resp.Error("round changed, try again", http.StatusConflict)
	}

	return resp.Error("failed to cash out", http.StatusInternalServerError)
}
