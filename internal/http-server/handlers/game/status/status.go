package status

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go-crash/internal/engine"
	resp "go-crash/internal/lib/api/response"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"golang.org/x/exp/slog"
)

// Round is nested rather than embedded: its status field would otherwise
// collide with the envelope's status code.
type Response struct {
	resp.Response
	Round   engine.Status `json:"round"`
	History []string      `json:"history"`
}

type Provider interface {
	GetStatus(ctx context.Context) (engine.Status, error)
	CrashHistory(ctx context.Context, limit int64) ([]money.Coef, error)
}

type Status struct {
	log      *slog.Logger
	provider Provider
}

func New(log *slog.Logger, provider Provider) *Status {
	return &Status{
		log:      log,
		provider: provider,
	}
}

func (h *Status) New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.game.status.New"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		current, err := h.provider.GetStatus(r.Context())
		if err != nil {
			log.Error("failed to get round status", sl.Err(err))

			render.JSON(w, r, resp.Error("failed to get round status", http.StatusInternalServerError))

			return
		}

		coefs, err := h.provider.CrashHistory(r.Context(), 50)
		if err != nil {
			log.Error("failed to get crash history", sl.Err(err))

			coefs = nil
		}

		history := make([]string, 0, len(coefs))
		for _, coef := range coefs {
			history = append(history, coef.String())
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Round:    current,
			History:  history,
		})
	}
}
