package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/JoelPallero/Church-Center-sub001/internal/audit"
	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
	"github.com/JoelPallero/Church-Center-sub001/internal/config"
	"github.com/JoelPallero/Church-Center-sub001/internal/httpapi"
	"github.com/JoelPallero/Church-Center-sub001/internal/notify"
	"github.com/JoelPallero/Church-Center-sub001/internal/obs"
	"github.com/JoelPallero/Church-Center-sub001/internal/ratelimit"
	"github.com/JoelPallero/Church-Center-sub001/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(
			newConfig,
			newLogger,
			newStore,
			newRedis,
			newNotifier,
			newAuthMetrics,
			newAuditLogger,
			newAuthService,
			newAPI,
			newHealthReporter,
		),
		fx.Invoke(initMetrics, startHTTPServer, startGRPCServer),
	)
	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(lc fx.Lifecycle, cfg config.Config) (*zap.Logger, error) {
	logger, err := obs.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func newStore(lc fx.Lifecycle, cfg config.Config) (*pg.Store, error) {
	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := store.Ping(pingCtx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// newRedis returns nil when REDIS_URL is unset; login throttling is then
// left to the in-process limiter and account lockout.
func newRedis(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newNotifier(cfg config.Config, logger *zap.Logger) auth.Notifier {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, notifications are logged only")
		return notify.NewLogNotifier(logger.Named("notify"))
	}
	return notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
}

func newAuthMetrics() (*obs.AuthMetrics, error) {
	return obs.NewAuthMetrics(nil)
}

func newAuditLogger(logger *zap.Logger, store *pg.Store) *audit.Logger {
	return audit.New(logger.Named("audit"), audit.WithSink(store))
}

func newAuthService(cfg config.Config, store *pg.Store, logger *zap.Logger, notifier auth.Notifier, events *audit.Logger, metrics *obs.AuthMetrics) (*auth.Service, error) {
	opts := []auth.ServiceOption{
		auth.WithLogger(logger.Named("auth")),
		auth.WithNotifier(notifier),
		auth.WithEventLogger(events),
		auth.WithMetrics(metrics),
		auth.WithFallbackSecret(cfg.AuthSecret),
		auth.WithResetBaseURL(cfg.PublicBaseURL),
	}
	if cfg.GoogleEnabled() {
		provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret)
		if cfg.GoogleTokenURL != "" {
			provider.TokenURL = cfg.GoogleTokenURL
		}
		if cfg.GoogleTokenInfoURL != "" {
			provider.TokenInfoURL = cfg.GoogleTokenInfoURL
		}
		opts = append(opts, auth.WithOAuthProvider(provider, cfg.GoogleClientID))
	}
	return auth.NewService(store, opts...)
}

func newAPI(cfg config.Config, store *pg.Store, svc *auth.Service, rdb *redis.Client, logger *zap.Logger) (*httpapi.API, error) {
	opts := []httpapi.Option{
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if rdb != nil {
		limiter, err := ratelimit.NewWindowLimiter(rdb, "cc:auth", cfg.LoginIPLimit, cfg.LoginIPWindow)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpapi.WithLoginLimiter(limiter))
	}
	return httpapi.New(httpapi.ReadyProbe{DB: store.DB()}, version, svc, opts...), nil
}

func newHealthReporter(store *pg.Store, logger *zap.Logger) *httpapi.HealthReporter {
	return httpapi.NewHealthReporter(httpapi.ReadyProbe{DB: store.DB()}, logger.Named("grpc"))
}

func initMetrics() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
}

func startHTTPServer(lc fx.Lifecycle, cfg config.Config, api *httpapi.API, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("version", version))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startGRPCServer(lc fx.Lifecycle, cfg config.Config, health *httpapi.HealthReporter, logger *zap.Logger) {
	srv := httpapi.NewGRPCServer(health)
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())
			go health.Run(runCtx, 15*time.Second)

			logger.Info("grpc server listening", zap.String("addr", cfg.GRPCAddr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					logger.Error("grpc server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			stopped := make(chan struct{})
			go func() {
				srv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				srv.Stop()
				return ctx.Err()
			}
		},
	})
}
