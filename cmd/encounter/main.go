package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/chiwar/encounter/internal/broadcast"
	"github.com/chiwar/encounter/internal/broadcast/websocket"
	"github.com/chiwar/encounter/internal/chase"
	"github.com/chiwar/encounter/internal/combat"
	"github.com/chiwar/encounter/internal/config"
	"github.com/chiwar/encounter/internal/dispatcher"
	"github.com/chiwar/encounter/internal/fight"
	"github.com/chiwar/encounter/internal/influx"
	"github.com/chiwar/encounter/internal/logging"
	intOtel "github.com/chiwar/encounter/internal/otel"
	"github.com/chiwar/encounter/internal/storage"
	"github.com/chiwar/encounter/internal/worker"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	ServiceName string = "encounter"
)

// global variables
var (
	// ConfigDir holds encounter.cfg.json. Overridden by ENCOUNTER_CONFIG_DIR.
	ConfigDir string = "."

	LogFilePath string
	LogFile     *os.File

	// SessionID tags every log record of this process.
	SessionID string = uuid.NewString()

	SessionStartTime time.Time = time.Now()

	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	gelfWriter *gelf.Writer

	// Services
	storageBackend  storage.Store
	publisher       broadcast.Publisher
	wsPublisher     *websocket.Publisher
	statsSink       *influx.Manager
	eventDispatcher *dispatcher.Dispatcher
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
	}

	switch cmd {
	case "version":
		fmt.Println(CurrentVersion, BuildDate)
		return
	case "serve", "setupdb":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, setupdb or version)\n", cmd)
		os.Exit(2)
	}

	setup()
	defer shutdown()

	Logger.Info("Starting up...", "version", CurrentVersion, "command", cmd)

	if err := initStorage(); err != nil {
		Logger.Error("Storage initialization failed", "error", err)
		shutdown()
		os.Exit(1)
	}

	if cmd == "setupdb" {
		Logger.Info("DB setup complete.")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initPublisher()
	initStats(ctx)

	if err := initDispatcher(); err != nil {
		Logger.Error("Dispatcher initialization failed", "error", err)
		shutdown()
		os.Exit(1)
	}

	Logger.Info("Ready for commands on stdin")
	if err := serve(ctx, os.Stdin, os.Stdout, eventDispatcher, Logger); err != nil && !errors.Is(err, context.Canceled) {
		Logger.Error("Command loop stopped", "error", err)
	}
	Logger.Info("Shutting down")
}

// setup loads config and brings up logging. Failures here fall back to
// defaults and stdout logging rather than aborting.
func setup() {
	if dir := os.Getenv("ENCOUNTER_CONFIG_DIR"); dir != "" {
		ConfigDir = dir
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(ConfigDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", ConfigDir)
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	} else {
		LogFilePath = logging.LogFilePath(logsDir, ServiceName, SessionStartTime)
		if _, err := os.Stat(LogFilePath); err == nil {
			_ = os.Rename(LogFilePath, LogFilePath+".old")
		}
		f, err := os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		} else {
			LogFile = f
		}
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var err error
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    LogFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		} else {
			Logger.Info("OTel provider initialized", "file", LogFilePath, "endpoint", otelCfg.Endpoint)
		}
	}

	var extra []slog.Handler
	graylogCfg := config.GetGraylogConfig()
	if graylogCfg.Enabled {
		h, w, err := logging.NewGelfHandler(graylogCfg.Address, graylogCfg.Facility, viper.GetString("logLevel"))
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			gelfWriter = w
			extra = append(extra, h)
		}
	}

	// Re-setup logging with file output and optional OTel
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{slog.String("session", SessionID)}
	})
	if LogFile != nil {
		SlogManager.Setup(LogFile, viper.GetString("logLevel"), otelLogProvider, extra...)
	} else {
		SlogManager.Setup(nil, viper.GetString("logLevel"), otelLogProvider, extra...)
	}
	Logger = SlogManager.Logger()
	slog.SetDefault(Logger)
	Logger.Info("Logging configured", "file", LogFilePath, "graylog", gelfWriter != nil)
}

func initPublisher() {
	sinks := broadcast.Multi{broadcast.Log{Logger: Logger}}

	cfg := config.GetBroadcastConfig()
	if cfg.Enabled {
		wsPublisher = websocket.New(websocket.Config{
			URL:    cfg.URL,
			Secret: cfg.Secret,
			Source: cfg.Source,
		}, Logger)
		if err := wsPublisher.Init(); err != nil {
			// Fights still run; clients see state on their next fetch.
			Logger.Error("Failed to connect to realtime server", "url", cfg.URL, "error", err)
			wsPublisher = nil
		} else {
			Logger.Info("Realtime publisher connected", "url", cfg.URL)
			sinks = append(sinks, wsPublisher)
		}
	}
	publisher = sinks
}

func initStats(ctx context.Context) {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return
	}
	m := influx.NewManager(influx.Config{
		URL:        cfg.URL,
		Token:      cfg.Token,
		Org:        cfg.Org,
		Bucket:     cfg.Bucket,
		BackupPath: cfg.BackupPath,
	}, Logger)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := m.Connect(connectCtx); err != nil {
		Logger.Error("InfluxDB stats disabled", "error", err)
		return
	}
	statsSink = m
}

func initDispatcher() error {
	d, err := dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	registerLifecycleHandlers(d)

	deps := combat.Dependencies{
		Store:     storageBackend,
		Logger:    Logger,
		Publisher: publisher,
	}
	if statsSink != nil {
		deps.Stats = statsSink
	}
	combatService, err := combat.NewService(deps)
	if err != nil {
		return fmt.Errorf("failed to create combat service: %w", err)
	}

	workerManager := worker.NewManager(worker.Dependencies{
		Combat: combatService,
		Chases: chase.NewManager(chase.Dependencies{
			Store:     storageBackend,
			Logger:    Logger,
			Publisher: publisher,
		}),
		Fights: fight.NewService(fight.Dependencies{
			Store:     storageBackend,
			Logger:    Logger,
			Publisher: publisher,
		}),
		LogManager: SlogManager,
	})
	workerManager.RegisterHandlers(d)
	Logger.Info("Worker handlers registered with dispatcher", "commands", len(d.Commands()))

	eventDispatcher = d
	return nil
}

func registerLifecycleHandlers(d *dispatcher.Dispatcher) {
	d.Register(":VERSION:", func(context.Context, dispatcher.Event) (any, error) {
		return []string{CurrentVersion, BuildDate}, nil
	})

	d.Register(":GETDIR:LOG:", func(context.Context, dispatcher.Event) (any, error) {
		if LogFilePath == "" {
			return "", nil
		}
		return filepath.Abs(LogFilePath)
	})

	d.Register(":FLUSH:", func(ctx context.Context, _ dispatcher.Event) (any, error) {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		flush := SlogManager.Flush
		if OTelProvider != nil {
			flush = OTelProvider.Flush
		}
		if err := flush(flushCtx); err != nil {
			Logger.Warn("Failed to flush OTel logs", "error", err)
			return nil, err
		}
		return "ok", nil
	})
}

// shutdown releases every resource opened by setup and the init steps.
// Safe to call more than once.
func shutdown() {
	if eventDispatcher != nil {
		eventDispatcher.Close()
		eventDispatcher = nil
	}
	if wsPublisher != nil {
		if err := wsPublisher.Close(); err != nil {
			Logger.Warn("Failed to close realtime publisher", "error", err)
		}
		wsPublisher = nil
	}
	if statsSink != nil {
		if err := statsSink.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB stats", "error", err)
		}
		statsSink = nil
	}
	if storageBackend != nil {
		if err := storageBackend.Close(); err != nil {
			Logger.Warn("Failed to close storage", "error", err)
		}
		storageBackend = nil
	}
	if OTelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Warn("Failed to shut down OTel provider", "error", err)
		}
		cancel()
		OTelProvider = nil
	}
	if gelfWriter != nil {
		_ = gelfWriter.Close()
		gelfWriter = nil
	}
	if LogFile != nil {
		_ = LogFile.Close()
		LogFile = nil
	}
}
