package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"allais-survey-service/internal/analysis"
	"allais-survey-service/internal/app"
	"allais-survey-service/internal/config"
	"allais-survey-service/internal/domain"
	"allais-survey-service/internal/infra/memory"
	pgstore "allais-survey-service/internal/infra/postgres"
	redisstore "allais-survey-service/internal/infra/redis"
	"allais-survey-service/internal/quality"
	transport "allais-survey-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the survey API and dashboard stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := config.InitLogger(cfg.Log); err != nil {
				return err
			}
			defer zap.L().Sync() //nolint:errcheck
			return runServer(cmd.Context(), cfg, *port)
		},
	}
}

// backends groups the stores selected by configuration.
type backends struct {
	responses   app.ResponseRepository
	experiments app.ExperimentRepository
	locker      app.ParticipantLocker
	feeds       app.FeedRepository
	closers     []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServer(ctx context.Context, cfg config.Config, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	opts := analysisOptions(cfg.Analysis)
	dashboard := app.NewDashboardService(b.responses, b.experiments, b.feeds, opts)

	submissionOpts := []app.SubmissionOption{app.WithPublisher(dashboard)}
	if cfg.Experiment.DefaultID != "" {
		submissionOpts = append(submissionOpts, app.WithDefaultExperiment(cfg.Experiment.DefaultID))
	}
	submissions := app.NewSubmissionService(b.responses, b.experiments, b.locker,
		quality.NewValidator(cfg.Quality.StrictIDs), submissionOpts...)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(submissions, dashboard, transport.RouterOptions{
			DuplicateStatusConflict: cfg.Server.DuplicateStatusConflict,
			AllowedOrigins:          cfg.Server.AllowedOrigins,
			SubmitRate:              cfg.Server.SubmitRate,
			SubmitBurst:             cfg.Server.SubmitBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting survey service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openBackends uses Postgres for durable storage and Redis for caching, locking and feed markers
// when configured; anything left unconfigured falls back to the in-process implementation.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	now := time.Now().UTC()

	var seed *domain.Experiment
	if cfg.Experiment.Seed != nil && cfg.Experiment.Seed.ID != "" {
		exp := cfg.Experiment.Seed.Experiment(now)
		seed = &exp
	}

	var loader memory.ExperimentLoader
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		b.closers = append(b.closers, pool.Close)

		pgLoader := pgstore.NewExperimentLoader(pool)
		if seed != nil {
			if err := pgLoader.EnsureExperiment(ctx, *seed); err != nil {
				b.close()
				return nil, err
			}
		}
		loader = pgLoader
		b.responses = pgstore.NewResponseStore(pool)
		zap.L().Info("using postgres storage")
	} else {
		var seeds []domain.Experiment
		if seed != nil {
			seeds = append(seeds, *seed)
		}
		loader = memory.NewStaticExperimentLoader(seeds...)
		b.responses = memory.NewResponseStore()
		zap.L().Warn("postgres not configured, responses are kept in memory")
	}

	experimentTTL := config.TTLDuration(cfg.Experiment.TTL, 5*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			b.close()
			return nil, eris.Wrap(err, "ping redis")
		}
		b.closers = append(b.closers, func() { _ = client.Close() })

		b.experiments = redisstore.NewExperimentRepository(client, loader, experimentTTL)
		b.locker = redisstore.NewParticipantLocker(client, config.TTLDuration(cfg.Redis.LockTTL, 10*time.Second))
		b.feeds = redisstore.NewFeedStore(client, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
		zap.L().Info("using redis cache and locks", zap.String("addr", cfg.Redis.Addr))
	} else {
		b.experiments = memory.NewExperimentRepository(loader, experimentTTL)
		b.locker = memory.NewParticipantLocker()
		b.feeds = memory.NewFeedStore()
	}
	return b, nil
}

func analysisOptions(cfg config.AnalysisConfig) analysis.Options {
	opts := analysis.DefaultOptions()
	if cfg.AssumedEffectSize > 0 {
		opts.AssumedEffectSize = cfg.AssumedEffectSize
	}
	if cfg.PowerThreshold > 0 {
		opts.PowerThreshold = cfg.PowerThreshold
	}
	if cfg.Alpha > 0 && cfg.Alpha < 1 {
		opts.Alpha = cfg.Alpha
	}
	if cfg.TargetPower > 0 && cfg.TargetPower < 1 {
		opts.TargetPower = cfg.TargetPower
	}
	opts.Legacy = cfg.LegacyApproximations
	return opts
}
