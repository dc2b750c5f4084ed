package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/skilltrack/internal/config"
	"github.com/MarkoPoloResearchLab/skilltrack/internal/display"
	"github.com/MarkoPoloResearchLab/skilltrack/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/skilltrack/internal/httpapi"
	"github.com/MarkoPoloResearchLab/skilltrack/internal/metrics"
	"github.com/MarkoPoloResearchLab/skilltrack/internal/oplog"
	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	envPrefix = "SKILLD"

	flagHTTPListenAddr     = "http-listen-addr"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagDatabaseURL        = "database-url"
	flagFlushInterval      = "flush-interval"
	flagLevelsFile         = "levels-file"
	flagAllowedOrigins     = "allowed-origins"
	flagJWTSigningKey      = "jwt-signing-key"
	flagJWTIssuer          = "jwt-issuer"
	flagTrackRetryAttempts = "track-retry-attempts"
	flagDefaultSkill       = "default-skill"
	flagShutdownTimeout    = "shutdown-timeout"

	configKeyHTTPListenAddr     = "http_listen_addr"
	configKeyGRPCListenAddr     = "grpc_listen_addr"
	configKeyDatabaseURL        = "database_url"
	configKeyFlushInterval      = "flush_interval"
	configKeyLevelsFile         = "levels_file"
	configKeyAllowedOrigins     = "allowed_origins"
	configKeyJWTSigningKey      = "jwt_signing_key"
	configKeyJWTIssuer          = "jwt_issuer"
	configKeyTrackRetryAttempts = "track_retry_attempts"
	configKeyDefaultSkill       = "default_skill"
	configKeyShutdownTimeout    = "shutdown_timeout"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "skilld: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "skilld",
		Short:         "Skill experience tracking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagHTTPListenAddr, ":8080", "HTTP listen address")
	flags.String(flagGRPCListenAddr, ":7000", "gRPC listen address")
	flags.String(flagDatabaseURL, "sqlite:///tmp/skilltrack.db", "database URL (sqlite://, postgres://, pgx+postgres://)")
	flags.Duration(flagFlushInterval, skills.DefaultFlushInterval, "interval between pending experience flushes")
	flags.String(flagLevelsFile, "", "JSON file with level thresholds; built-in table when empty or missing")
	flags.String(flagAllowedOrigins, "", "comma-separated CORS origins")
	flags.String(flagJWTSigningKey, "", "HS256 key for player bearer tokens")
	flags.String(flagJWTIssuer, "skilltrack", "expected bearer token issuer")
	flags.Int(flagTrackRetryAttempts, skills.DefaultTrackRetryAttempts, "attempts to persist a tracked skill switch")
	flags.String(flagDefaultSkill, "mining", "skill tracked by new players")
	flags.Duration(flagShutdownTimeout, 0, "time allowed for the final flush on shutdown")

	return cmd
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *config.Config) error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	if err := settings.BindEnv(configKeyDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}
	bindings := map[string]string{
		configKeyHTTPListenAddr:     flagHTTPListenAddr,
		configKeyGRPCListenAddr:     flagGRPCListenAddr,
		configKeyDatabaseURL:        flagDatabaseURL,
		configKeyFlushInterval:      flagFlushInterval,
		configKeyLevelsFile:         flagLevelsFile,
		configKeyAllowedOrigins:     flagAllowedOrigins,
		configKeyJWTSigningKey:      flagJWTSigningKey,
		configKeyJWTIssuer:          flagJWTIssuer,
		configKeyTrackRetryAttempts: flagTrackRetryAttempts,
		configKeyDefaultSkill:       flagDefaultSkill,
		configKeyShutdownTimeout:    flagShutdownTimeout,
	}
	for key, flag := range bindings {
		if err := settings.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.HTTPListenAddr = settings.GetString(configKeyHTTPListenAddr)
	cfg.GRPCListenAddr = settings.GetString(configKeyGRPCListenAddr)
	cfg.DatabaseURL = settings.GetString(configKeyDatabaseURL)
	cfg.FlushInterval = settings.GetDuration(configKeyFlushInterval)
	cfg.LevelsFile = settings.GetString(configKeyLevelsFile)
	cfg.AllowedOrigins = config.ParseAllowedOrigins(settings.GetString(configKeyAllowedOrigins))
	cfg.JWTSigningKey = settings.GetString(configKeyJWTSigningKey)
	cfg.JWTIssuer = settings.GetString(configKeyJWTIssuer)
	cfg.TrackRetryAttempts = settings.GetInt(configKeyTrackRetryAttempts)
	cfg.DefaultCategory = settings.GetString(configKeyDefaultSkill)
	cfg.ShutdownTimeout = settings.GetDuration(configKeyShutdownTimeout)
	return cfg.Validate()
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() {
		if cleanupErr := cleanup(); cleanupErr != nil {
			logger.Warn("database close failed", zap.Error(cleanupErr))
		}
	}()

	table, err := skills.LoadLevelTable(cfg.LevelsFile)
	if err != nil {
		return fmt.Errorf("level table: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	flushCollector, err := metrics.NewFlushCollector(registry)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	board := display.NewBoard()
	options := []skills.ServiceOption{
		skills.WithLogger(logger),
		skills.WithOperationLogger(oplog.New(logger)),
		skills.WithDisplay(board),
		skills.WithFlushInterval(cfg.FlushInterval),
		skills.WithFlushObserver(flushCollector),
		skills.WithTrackRetry(cfg.TrackRetryAttempts),
		skills.WithDefaultCategory(cfg.Category()),
	}
	if journal, ok := store.(skills.LevelUpJournal); ok {
		options = append(options, skills.WithLevelUpJournal(journal))
	}
	skillService, err := skills.NewService(store, table, options...)
	if err != nil {
		return fmt.Errorf("skills service init: %w", err)
	}
	if err := skillService.Start(ctx); err != nil {
		return fmt.Errorf("skills service start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if stopErr := skillService.Stop(stopCtx); stopErr != nil {
			logger.Error("final flush failed", zap.Error(stopErr))
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.Register(grpcServer, grpcserver.NewSkillServer(skillService))

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		errCh <- grpcServer.Serve(lis)
	}()

	httpCtx, stopHTTP := context.WithCancel(ctx)
	defer stopHTTP()
	go func() {
		errCh <- httpapi.Run(httpCtx, httpapi.Config{
			ListenAddr:     cfg.HTTPListenAddr,
			AllowedOrigins: cfg.AllowedOrigins,
			SigningKey:     cfg.JWTSigningKey,
			Issuer:         cfg.JWTIssuer,
		}, httpapi.Dependencies{
			Skills:   skillService,
			Board:    board,
			Gatherer: registry,
			Logger:   logger,
		})
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		stopHTTP()
		return nil
	case serveErr := <-errCh:
		grpcServer.GracefulStop()
		stopHTTP()
		if serveErr == nil || errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	}
}
