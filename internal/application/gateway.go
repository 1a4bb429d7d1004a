package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/infra/api"
	"chatbot-ai-pipeline/internal/infra/metrics"
	"chatbot-ai-pipeline/internal/infra/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// devJoinSecret signs join tokens when a dev setup has no secret configured.
const devJoinSecret = "dev-join-secret"

// Gateway serves live client connections and relays worker events to them.
type Gateway struct {
	cfg   *config.Config
	hub   *realtime.Hub
	srv   *realtime.Server
	relay *realtime.Relay
	auth  *realtime.JWTAuthorizer
	log   *zerolog.Logger
}

func NewGateway(cfg *config.Config, b *Backends, logger *zerolog.Logger) (*Gateway, error) {
	secret := cfg.Gateway.JoinSecret
	if secret == "" && cfg.Runtime.Dev {
		logger.Warn().Msg("gateway.join_secret not set; using the dev secret (INSECURE)")
		secret = devJoinSecret
	}
	auth, err := realtime.NewJWTAuthorizer(secret)
	if err != nil {
		return nil, err
	}
	hub := realtime.NewHub(logger)
	return &Gateway{
		cfg:   cfg,
		hub:   hub,
		srv:   realtime.NewServer(cfg.Gateway, hub, auth, b.Bus, b.Throttle, logger),
		relay: realtime.NewRelay(hub, b.Bus, logger),
		auth:  auth,
		log:   logger,
	}, nil
}

// Authorizer mints and checks join tokens with the gateway's secret.
func (g *Gateway) Authorizer() *realtime.JWTAuthorizer { return g.auth }

// Handler serves /ws, /healthz and /metrics.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(api.TraceID(g.log), api.Recover(g.log))
	g.srv.Routes(r)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// StartRelay subscribes to the broadcast channel in the background.
func (g *Gateway) StartRelay(ctx context.Context) {
	go func() {
		if err := g.relay.Run(ctx); err != nil {
			g.log.Error().Err(err).Msg("relay stopped")
		}
	}()
}

// Run serves until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	g.StartRelay(ctx)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", g.cfg.Gateway.Port), Handler: g.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		g.log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
