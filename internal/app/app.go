package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/trix-server/internal/auth"
	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/config"
	"github.com/vovakirdan/trix-server/internal/core"
	"github.com/vovakirdan/trix-server/internal/metrics"
	"github.com/vovakirdan/trix-server/internal/service/bot"
	"github.com/vovakirdan/trix-server/internal/service/messages"
	"github.com/vovakirdan/trix-server/internal/service/rename"
	"github.com/vovakirdan/trix-server/internal/store"
	"github.com/vovakirdan/trix-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/trix-server/internal/transport/http"
	"github.com/vovakirdan/trix-server/internal/utils"
)

// App wires together storage, services, the realtime hub and transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	messages        *messages.Service
	bot             *bot.Bot
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if err := st.EnsureSystemUser(ctx, chat.SystemBotName); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure system user: %w", err)
	}

	latest, err := st.LatestTimestamp(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("read latest timestamp: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	hasher := auth.NewHasher([]byte(cfg.PasswordPepper), auth.DefaultParams)
	authService := auth.NewService(st, jwtConfig, hasher)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	hub := core.NewHub(logger, m)
	locks := utils.NewKeyLock()
	msgs := messages.New(st, locks, messages.NewClock(latest), hub,
		messages.Config{HistoryWindow: cfg.HistoryWindow}, logger, m)
	renamer := rename.New(st, locks, hub, authService, logger, m)

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		messages:        msgs,
		log:             logger,
	}

	if cfg.BotEnabled {
		a.bot = bot.New(bot.Config{Name: chat.SystemBotName, Delay: cfg.BotDelay}, msgs, logger)
		msgs.Subscribe(a.bot.Handler(ctx))
		logger.Info().Str("name", a.bot.Name()).Dur("delay", cfg.BotDelay).Msg("bot enabled")
	}

	a.server = transporthttp.NewServer(hub, transporthttp.Services{
		Auth:     authService,
		Messages: msgs,
		Rename:   renamer,
	}, cfg, logger, m)

	return a, nil
}

// Run starts the hub and HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			runErr = err
		} else {
			runErr = <-serverErr
		}
	}

	if a.bot != nil {
		a.bot.Wait()
	}
	stopHub()
	<-hubDone
	a.cleanup()
	return runErr
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
