package state

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go-crash/internal/engine"
	resp "go-crash/internal/lib/api/response"
	"go-crash/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

type Response struct {
	resp.Response
	engine.PlayerState
}

type Provider interface {
	GetPlayerState(ctx context.Context, userID int64) (engine.PlayerState, error)
}

type State struct {
	log      *slog.Logger
	provider Provider
}

func New(log *slog.Logger, provider Provider) *State {
	return &State{
		log:      log,
		provider: provider,
	}
}

func (h *State) New() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.game.state.New"

		log := h.log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, err := strconv.ParseInt(chi.URLParam(r, "user_id"), 10, 64)
		if err != nil || userID <= 0 {
			log.Error("invalid user id", sl.String("user_id", chi.URLParam(r, "user_id")))

			render.JSON(w, r, resp.Error("invalid user id", http.StatusBadRequest))

			return
		}

		playerState, err := h.provider.GetPlayerState(r.Context(), userID)
		if err != nil {
			log.Error("failed to get player state", sl.Err(err))

			render.JSON(w, r, resp.Error("failed to get player state", http.StatusInternalServerError))

			return
		}

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			PlayerState: playerState,
		})
	}
}
