package slogpretty

import (
	"context"
	"encoding/json"
	"io"
	stdLog "log"
	"sync"

	"golang.org/x/exp/slog"
)

// PrettyHandlerOptions wraps slog.HandlerOptions for the local dev handler.
type PrettyHandlerOptions struct {
	SlogOpts *slog.HandlerOptions
}

// PrettyHandler renders records as "LEVEL: message {attrs}" lines for local
// development. Not for production use.
type PrettyHandler struct {
	opts  PrettyHandlerOptions
	l     *stdLog.Logger
	attrs []slog.Attr
	mu    *sync.Mutex
}

func (opts PrettyHandlerOptions) NewPrettyHandler(out io.Writer) *PrettyHandler {
	return &PrettyHandler{
		opts: opts,
		l:    stdLog.New(out, "", stdLog.LstdFlags),
		mu:   &sync.Mutex{},
	}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.SlogOpts != nil && h.opts.SlogOpts.Level != nil {
		minLevel = h.opts.SlogOpts.Level.Level()
	}

	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]interface{}, r.NumAttrs()+len(h.attrs))

	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()

		return true
	})

	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}

	var suffix string

	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			return err
		}

		suffix = " " + string(b)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.l.Printf("%s: %s%s", r.Level.String(), r.Message, suffix)

	return nil
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &PrettyHandler{
		opts:  h.opts,
		l:     h.l,
		attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		mu:    h.mu,
	}
}

func (h *PrettyHandler) WithGroup(_ string) slog.Handler {
	return h
}
