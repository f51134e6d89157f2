package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	hub "github.com/goliatone/go-auth-hub"
	"github.com/goliatone/go-auth-hub/activitymap"
	"github.com/goliatone/go-auth-hub/cache"
	"github.com/goliatone/go-auth-hub/config"
	"github.com/goliatone/go-auth-hub/repository"
	"github.com/goliatone/go-auth-hub/social"
	"github.com/goliatone/go-auth-hub/social/providers/github"
	"github.com/goliatone/go-auth-hub/social/providers/naver"
	"github.com/goliatone/go-auth-hub/social/providers/oidc"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config *config.Config
	logger *glog.BaseLogger
	db     *bun.DB
	orch   *hub.Orchestrator
	srv    *fiber.App
	close  []func() error
}

func (a *App) GetLogger(name string) hub.Logger {
	return newPrintfLogger(a.logger.GetLogger(name), a.config.LogLevel)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("hubd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	app := &App{config: cfg, logger: lgr}
	log := app.GetLogger("main")

	if cfg.JWTSecret == "" {
		log.Error("JWT_SECRET is not set: sessions cannot be issued")
	}
	if len(cfg.GetServiceSecrets()) == 0 {
		log.Error("HUB_API_KEY is not set: service routes reject every request")
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}
	defer app.shutdown()

	providers, err := WithProviders(ctx, app)
	if err != nil {
		panic(err)
	}

	WithOrchestrator(app, providers)
	WithHTTPServer(app)

	go func() {
		log.Info("listening on %s", cfg.Addr)
		if err := app.srv.Listen(cfg.Addr); err != nil {
			log.Error("server stopped: %s", err)
		}
	}()

	WaitExitSignal()
	log.Info("shutting down")
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DatabaseURL)
	if err != nil {
		return err
	}
	// sqlite allows a single writer
	sqldb.SetMaxOpenConns(1)

	app.db = bun.NewDB(sqldb, sqlitedialect.New())
	app.close = append(app.close, app.db.Close)

	return repository.Migrate(ctx, app.db)
}

type registration struct {
	exchanger social.Exchanger
	creds     social.Credentials
}

func WithProviders(ctx context.Context, app *App) ([]registration, error) {
	cfg := app.config
	out := []registration{}

	// naver routes exist even without application credentials since users
	// may store their own
	out = append(out, registration{
		exchanger: naver.New(naver.Config{}),
		creds: social.Credentials{
			ClientID:     cfg.Naver.ClientID,
			ClientSecret: cfg.Naver.ClientSecret,
			RedirectURI:  cfg.Naver.RedirectURI,
		},
	})

	if cfg.GitHub.Enabled() {
		out = append(out, registration{
			exchanger: github.New(github.Config{Scopes: cfg.GitHub.Scopes}),
			creds: social.Credentials{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				RedirectURI:  cfg.GitHub.RedirectURI,
			},
		})
	}

	if !cfg.OIDC.Enabled() {
		return out, nil
	}

	oidcCfg := oidc.Config{
		Issuer:                cfg.OIDC.Issuer,
		ClientID:              cfg.OIDC.ClientID,
		Audience:              cfg.OIDC.Audience,
		PostLogoutRedirectURI: cfg.OIDC.PostLogoutRedirectURI,
		Logger:                app.GetLogger("oidc"),
	}

	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.close = append(app.close, client.Close)
		oidcCfg.Cache = cache.NewRedisMetadataCache(client, app.GetLogger("cache"))
	}

	provider := oidc.New(oidcCfg)
	app.close = append(app.close, func() error {
		provider.Close()
		return nil
	})

	out = append(out, registration{
		exchanger: provider,
		creds: social.Credentials{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURI:  cfg.OIDC.RedirectURI,
		},
	})

	return out, nil
}

func WithOrchestrator(app *App, providers []registration) {
	opts := []hub.OrchestratorOption{
		hub.WithPostStore(repository.NewPostStore(app.db)),
		hub.WithOrchestratorLogger(app.GetLogger("hub")),
		hub.WithActivitySink(activitymap.Sink(activityLogger(app.GetLogger("activity")))),
	}
	for _, p := range providers {
		opts = append(opts, hub.WithProvider(p.exchanger, p.creds))
	}

	app.orch = hub.NewOrchestrator(app.config, repository.NewCredentialStore(app.db), opts...)
}

func WithHTTPServer(app *App) {
	controller := hub.NewHTTPController(
		app.orch,
		repository.NewJobQueue(app.db),
		repository.NewPostStore(app.db),
		hub.WithControllerLogger(app.GetLogger("http")),
	)

	app.srv = fiber.New(fiber.Config{
		AppName:               "hubd",
		DisableStartupMessage: true,
		ErrorHandler:          controller.Auth().FiberErrorHandler(),
	})
	controller.RegisterRoutes(app.srv)

	app.close = append([]func() error{func() error {
		return app.srv.ShutdownWithTimeout(shutdownTimeout)
	}}, app.close...)
}

func activityLogger(log hub.Logger) func(activitymap.Normalized) error {
	return func(record activitymap.Normalized) error {
		log.Info("%s %s", record.Verb, print.MaybePrettyJSON(record))
		return nil
	}
}

func (a *App) shutdown() {
	log := a.GetLogger("main")
	for _, fn := range a.close {
		if err := fn(); err != nil {
			log.Error("shutdown: %s", err)
		}
	}
}

func WaitExitSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
