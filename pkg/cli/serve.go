package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/clinicauth/pkg/audit"
	"github.com/platinummonkey/clinicauth/pkg/config"
	"github.com/platinummonkey/clinicauth/pkg/database"
	"github.com/platinummonkey/clinicauth/pkg/notify"
	"github.com/platinummonkey/clinicauth/pkg/observability"
	"github.com/platinummonkey/clinicauth/pkg/rbac"
)

// Server is the assembled HTTP service
type Server struct {
	Handler  http.Handler
	Sessions *rbac.Sessions

	admin *rbac.Admin
	redis *redis.Client
	file  *audit.FileWriter
}

// Close releases what NewServer opened. The database belongs to the caller.
func (s *Server) Close() error {
	if s.Sessions != nil {
		s.Sessions.Purge()
	}
	if s.admin != nil {
		s.admin.Wait()
	}
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
	}
	return errors.Join(errs...)
}

// NewServer wires the authorization engine, activity log and HTTP routes
// over db
func NewServer(ctx context.Context, cfg *config.Config, db *sql.DB, logger *observability.Logger) (*Server, error) {
	if cfg.Server.SessionToken == "" {
		return nil, errors.New("CLINICAUTH_SESSION_TOKEN is required to serve")
	}
	srv := &Server{}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	sinks := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Redis.URL != "" {
		client, err := notify.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		srv.redis = client
		sinks = append(sinks, notify.NewRedisNotifier(client, cfg.Redis.ChannelPrefix))
	}

	evaluator := rbac.NewEvaluator(
		rbac.WithNotifier(notify.Multi(sinks...)),
		rbac.WithEvaluatorMetrics(metrics),
		rbac.WithEvaluatorLogger(logger),
	)

	store := rbac.NewStore(db)
	srv.Sessions = rbac.NewSessions(store,
		rbac.SessionConfig{
			MaxSessions: cfg.Session.MaxSessions,
			IdleTTL:     cfg.Session.IdleTTL,
			Metrics:     metrics,
		},
		rbac.WithLoadTimeout(cfg.Session.LoadTimeout),
		rbac.WithProviderMetrics(metrics),
		rbac.WithProviderLogger(logger),
		rbac.WithTracer(observability.Tracer()),
	)

	activity, err := audit.NewDBStore(db)
	if err != nil {
		srv.Close()
		return nil, err
	}
	writers := []audit.Writer{activity}
	if cfg.Audit.FilePath != "" {
		fw, err := audit.NewFileWriter(audit.FileWriterConfig{
			BasePath: cfg.Audit.FilePath,
			Rotate:   true,
			MaxSize:  cfg.Audit.FileMaxSize,
			MaxFiles: cfg.Audit.FileMaxFiles,
		})
		if err != nil {
			srv.Close()
			return nil, err
		}
		srv.file = fw
		writers = append(writers, fw)
	}
	mw := audit.NewMultiWriter(writers...)
	mw.SetAsync(cfg.Audit.Async)
	activityLogger := audit.NewActivityLogger(mw, audit.WithMetrics(metrics), audit.WithLogger(logger))

	srv.admin = rbac.NewAdmin(store, evaluator, activityLogger, logger)
	handlers := rbac.NewHandlers(srv.Sessions, store, evaluator, srv.admin, activity,
		rbac.WithSessionToken(cfg.Server.SessionToken),
		rbac.WithHandlersLogger(logger),
	)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics, routeTemplate))
	handlers.RegisterRoutes(router)
	router.Handle("/healthz", observability.NewHealthChecker(db, srv.redis)).Methods("GET")
	if metrics != nil {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods("GET")
	}

	srv.Handler = otelhttp.NewHandler(router, "clinicauth")
	return srv, nil
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func newServeCommand(app *App) *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the authorization HTTP API",
		Flags:       flag.NewFlagSet("serve", flag.ContinueOnError),
	}
	migrate := cmd.Flags.Bool("migrate", false, "Apply migrations before serving")
	seed := cmd.Flags.Bool("seed", false, "Seed the built-in roles before serving")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, db, err := app.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

		otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        cfg.Observability.OTelEnabled,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
			SampleRatio:    cfg.Observability.OTelSampleRatio,
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		}()

		if *migrate {
			if _, err := database.Migrate(ctx, db, Migrations(), logger); err != nil {
				return err
			}
		}
		if *seed {
			if err := applySeed(ctx, app, db, rbac.BuiltInRoles()); err != nil {
				return err
			}
		}

		srv, err := NewServer(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		defer srv.Close()

		httpServer := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      srv.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			app.Log.WithField("addr", httpServer.Addr).Info("Starting clinicauth server")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			app.Log.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
		return g.Wait()
	}
	return cmd
}
