package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/capability"
	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Addr           string        `split_words:"true" default:":8080"`
	ReadTimeout    time.Duration `split_words:"true" default:"15s"`
	WriteTimeout   time.Duration `split_words:"true" default:"5m"`
	RequestTimeout time.Duration `split_words:"true" default:"4m"`
}

type Asker interface {
	HandleRequest(ctx context.Context, text string, hints contractx.Entities) (contractx.Answer, error)
}

type CapabilityDescriber interface {
	Describe() []capability.Descriptor
}

type SessionAdmin interface {
	Stats() []session.Stats
	Stat(key session.Key) (session.Stats, bool)
	Reset(ctx context.Context, key session.Key, reason string) error
}

type askRequest struct {
	Text  string             `json:"text"`
	Hints contractx.Entities `json:"hints"`
}

type Server struct {
	server  *http.Server
	handler http.Handler
}

func New(cfg Config, asker Asker, caps CapabilityDescriber, sessions SessionAdmin) *Server {
	r := chi.NewRouter()
	r.Use(logMiddleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", func(w http.ResponseWriter, r *http.Request) {
			req := askRequest{}
			if err := unmarshalRequestBody(r, &req); err != nil {
				writeError(w, r, fmt.Errorf("%w: unable to parse body: %w", contractx.ErrValidation, err))
				return
			}

			ctx := r.Context()
			if cfg.RequestTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()
			}

			answer, err := asker.HandleRequest(ctx, req.Text, req.Hints)
			if err != nil {
				writeError(w, r, err)
				return
			}
			hlog.FromRequest(r).Debug().
				Str(logx.RequestIDField, answer.RequestID).
				Str(logx.CategoryField, string(answer.Category)).
				Msg("answer rendered")
			render.JSON(w, r, answer)
		})

		r.Get("/capabilities", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, caps.Describe())
		})

		r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			stats := sessions.Stats()
			if stats == nil {
				stats = []session.Stats{}
			}
			render.JSON(w, r, stats)
		})

		r.Post("/sessions/{kind}/{config}/reset", func(w http.ResponseWriter, r *http.Request) {
			key := session.Key{Kind: chi.URLParam(r, "kind"), ConfigID: chi.URLParam(r, "config")}
			if err := key.Validate(); err != nil {
				writeError(w, r, fmt.Errorf("%w: %w", contractx.ErrValidation, err))
				return
			}
			reason := strings.TrimSpace(r.URL.Query().Get("reason"))
			if err := sessions.Reset(r.Context(), key, reason); err != nil {
				writeError(w, r, err)
				return
			}
			st, _ := sessions.Stat(key)
			log.Info().Str(logx.SessionKeyField, key.String()).Msg("session reset via api")
			render.JSON(w, r, st)
		})
	})

	return &Server{
		handler: r,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Handler exposes the router for in-process use.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(log.Logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))

	return c.Then
}

func unmarshalRequestBody(req *http.Request, output any) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err = req.Body.Close(); err != nil {
		return err
	}
	return json.Unmarshal(body, output)
}
