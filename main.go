package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aioschat/server/agentfactory"
	"github.com/aioschat/server/api"
	"github.com/aioschat/server/config"
	"github.com/aioschat/server/conversation"
	"github.com/aioschat/server/logger"
	"github.com/aioschat/server/metrics"
	"github.com/aioschat/server/rpc"
	"github.com/aioschat/server/session"
	"github.com/aioschat/server/startup"
	"github.com/aioschat/server/watch"
	"github.com/aioschat/server/ws"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

// options holds the command-line flags shared by every subcommand.
type options struct {
	configPath string
	port       int
	dataDir    string
	workDir    string
	store      string
	devMode    bool
	qr         bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "aios-chat",
		Short:         "Chat with a command-line coding assistant over a websocket",
		Version:       version,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ~/.aios-chat/config.yaml, then ./.aios-chat/config.yaml)")
	flags.IntVar(&opts.port, "port", config.DefaultPort, "server port")
	flags.StringVar(&opts.dataDir, "data-dir", "", "data directory (default: <work-dir>/.aios-chat)")
	flags.StringVar(&opts.workDir, "work-dir", ".", "default working directory for the assistant")
	flags.StringVar(&opts.store, "store", config.StoreFile, "transcript store: file or bolt")
	flags.BoolVar(&opts.devMode, "dev", false, "enable development mode")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	serve.Flags().BoolVar(&opts.qr, "qr", false, "print a QR code for the network URL")

	root.AddCommand(serve, newHistoryCmd(opts))
	return root
}

// loadConfig layers flags the user actually set over file and environment settings.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = opts.dataDir
	}
	if flags.Changed("work-dir") {
		cfg.WorkDir = opts.workDir
	}
	if flags.Changed("store") {
		cfg.Store = opts.store
	}
	if flags.Changed("dev") {
		cfg.DevMode = opts.devMode
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured transcript store and reports which files
// hold its records.
func openStore(cfg *config.Config, obs conversation.Observer) (conversation.Store, string, func(string) bool, error) {
	var storeOpts []conversation.Option
	if obs != nil {
		storeOpts = append(storeOpts, conversation.WithObserver(obs))
	}

	switch cfg.Store {
	case config.StoreBolt:
		store, err := conversation.NewBoltStore(cfg.BoltPath(), storeOpts...)
		if err != nil {
			return nil, "", nil, err
		}
		return store, cfg.DataDir, watch.File(cfg.BoltPath()), nil
	default:
		store, err := conversation.NewFileStore(cfg.HistoryDir(), storeOpts...)
		if err != nil {
			return nil, "", nil, err
		}
		return store, cfg.HistoryDir(), watch.JSONRecords, nil
	}
}

func newHandler(store conversation.Store, wsHandler http.Handler, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	api.NewConversationHandler(store).Register(mux)
	mux.Handle("GET /ws", wsHandler)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return mux
}

func runServe(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logCloser := logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.DevMode,
		Level:   cfg.LogLevel,
	})
	defer logCloser.Close()

	m := metrics.New()

	store, watchDir, watchMatch, err := openStore(cfg, m)
	if err != nil {
		slog.Error("failed to initialize transcript store", "error", err)
		return err
	}
	defer store.Close()

	runner, err := agentfactory.New(cfg.Agent.Type, agentfactory.Options{
		Command:   cfg.Agent.Command,
		Args:      cfg.Agent.Args,
		Timeout:   cfg.Agent.Timeout,
		KillGrace: cfg.Agent.KillGrace,
		Observer:  m,
	})
	if err != nil {
		slog.Error("failed to configure agent", "error", err)
		return err
	}

	registry := session.NewRegistry(m)
	wsHandler := ws.NewRPCHandler(registry, session.Config{
		Store:          store,
		Runner:         runner,
		DefaultWorkDir: cfg.WorkDir,
		Timeout:        runner.Timeout,
	}, cfg.AllowedOrigins, cfg.DevMode)

	historyWatcher := watch.NewHistoryWatcher(watchDir, watchMatch, func() {
		registry.Broadcast(context.Background(), rpc.ConversationsChanged{})
	})

	printer := startup.NewPrinter(cmd.OutOrStdout())

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			printer.PrintPortInUse(cfg.Port)
		}
		slog.Error("failed to listen", "addr", cfg.Addr(), "error", err)
		return err
	}

	srv := &http.Server{
		Handler:           newHandler(store, wsHandler, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	networkURL := startup.NetworkURL(cfg.Port)
	printer.PrintBanner(startup.BannerOptions{
		Version:    version,
		LocalURL:   fmt.Sprintf("http://localhost:%d", cfg.Port),
		NetworkURL: networkURL,
		Agent:      strings.Join(append([]string{runner.Command}, runner.Args...), " "),
		WorkDir:    cfg.WorkDir,
		DataDir:    cfg.DataDir,
		Store:      cfg.Store,
	})
	if opts.qr && networkURL != "" {
		printer.PrintQRCode(networkURL)
	}
	printer.PrintFooter()

	slog.Info("server starting",
		"port", cfg.Port,
		"workDir", cfg.WorkDir,
		"dataDir", cfg.DataDir,
		"store", cfg.Store,
		"agent", runner.Command,
		"timeout", runner.Timeout,
		"devMode", cfg.DevMode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return historyWatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		// Every live invocation is terminated before the listener goes away.
		registry.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}

// quietLogging keeps one-shot CLI commands free of info logs.
func quietLogging(w io.Writer) {
	logger.Init(logger.Config{Level: "warn", Stderr: w, DevMode: true})
}
