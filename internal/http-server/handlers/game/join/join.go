package join

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	resp "go-crash/internal/lib/api/response"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"go-crash/internal/round"
	"golang.org/x/exp/slog"
)

type Request struct {
	UserID int64   `json:"user_id" validate:"required,min=1"`
	Amount float64 `json:"amount" validate:"required,min=0.01,max=10000"`
}

type Response struct {
	resp.Response
}

type Joiner interface {
	Join(ctx context.Context, userID int64, bet money.Amount) error
}

type Join struct {
	log       *slog.Logger
	validator *validator.Validate
	joiner    Joiner
}

func New(log *slog.Logger, joiner Joiner) *Join {
	return &Join{
		log:       log,
		validator: validator.New(),
		joiner:    joiner,
	}
}

func (h *Join) New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.game.join.New"

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

		log.Info("request body decoded", slog.Any("request", req))

		if err := h.validator.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("invalid request", sl.Err(err))

			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		bet := money.AmountFromFloat(req.Amount)

		if err := h.joiner.Join(r.Context(), req.UserID, bet); err != nil {
			log.Error("failed to join round", sl.Err(err))

			render.JSON(w, r, joinError(err))

			return
		}

		log.Info("bet placed",
			slog.Int64("user_id", req.UserID),
			slog.String("amount", bet.String()))

		render.JSON(w, r, Response{Response: resp.OK()})
	}
}

func joinError(err error) resp.Response {
	switch {
	case errors.Is(err, round.ErrRoundNotWaiting):
		return resp.Error("round is not accepting bets", http.StatusConflict)
	case errors.Is(err, round.ErrAlreadyJoined):
		return resp.Error("already joined this round", http.StatusConflict)
	case errors.Is(err, round.ErrBetOutOfBounds):
		return resp.Error("bet amount is out of bounds", http.StatusBadRequest)
	case errors.Is(err, round.ErrRoundFull):
		return resp.Error("round is full", http.StatusConflict)
	case errors.Is(err, round.ErrInsufficientBalance):
		return resp.Error("insufficient balance", http.StatusPaymentRequired)
	case errors.Is(err, round.ErrConflict):
		return resp.Error("round changed, try again", http.StatusConflict)
	}

	return resp.Error("failed to join round", http.StatusInternalServerError)
}
