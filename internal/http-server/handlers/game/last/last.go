package last

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	resp "go-crash/internal/lib/api/response"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/round"
	"golang.org/x/exp/slog"
)

type Response struct {
	resp.Response
	Snapshot *round.Snapshot `json:"snapshot,omitempty"`
}

type Provider interface {
	GetLastRoundSnapshot(ctx context.Context) (*round.Snapshot, error)
}

type Last struct {
	log      *slog.Logger
	provider Provider
}

func New(log *slog.Logger, provider Provider) *Last {
	return &Last{
		log:      log,
		provider: provider,
	}
}

func (h *Last) New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.game.last.New"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		snapshot, err := h.provider.GetLastRoundSnapshot(r.Context())
		if err != nil {
			log.Error("failed to get last round snapshot", sl.Err(err))

			render.JSON(w, r, resp.Error("failed to get last round snapshot", http.StatusInternalServerError))

			return
		}

		if snapshot == nil {
			render.JSON(w, r, resp.Error("no finished round with players yet", http.StatusNotFound))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Snapshot: snapshot,
		})
	}
}
