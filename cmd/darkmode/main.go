// Package main is the darkmode service: it themes live browser pages and
// exposes their controls over HTTP and an optional terminal panel.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // registers pprof handlers on DefaultServeMux
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/darkmode-go/internal/browser"
	"github.com/Rorqualx/darkmode-go/internal/config"
	"github.com/Rorqualx/darkmode-go/internal/handlers"
	"github.com/Rorqualx/darkmode-go/internal/metrics"
	"github.com/Rorqualx/darkmode-go/internal/middleware"
	"github.com/Rorqualx/darkmode-go/internal/session"
	"github.com/Rorqualx/darkmode-go/internal/sitefixes"
	"github.com/Rorqualx/darkmode-go/internal/storage"
	"github.com/Rorqualx/darkmode-go/internal/tui"
	"github.com/Rorqualx/darkmode-go/pkg/version"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd runs the service; subcommands cover offline work.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "darkmode",
		Short: "Adaptive dark mode for live browser pages",
		Long: `Run the theming service: a browser, its themed sessions, the HTTP
control API and the optional terminal panel. Configuration comes from the
environment.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return runService()
		},
	}
	root.AddCommand(newRenderCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "darkmode %s (%s)\n", version.Full(), version.GoVersion())
		},
	}
}

func runService() error {
	cfg := config.Load()

	// Logging first so validation warnings are visible.
	logFile := setupLogging(cfg)
	if logFile != nil {
		defer logFile.Close()
	}
	cfg.Validate()
	setLevel(cfg.LogLevel)

	printBanner(os.Stdout, cfg, logFile)

	if err := serve(cfg); err != nil {
		log.Error().Err(err).Msg("Service failed")
		return err
	}
	return nil
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fixes, err := sitefixes.NewManager(cfg.SiteFixesPath, cfg.SiteFixesHotReload)
	if err != nil {
		return fmt.Errorf("load site fixes: %w", err)
	}
	defer fixes.Close()
	fixes.OnReload(func(t *sitefixes.Table) {
		metrics.RecordSiteFixReload()
		log.Info().Int("sites", len(t.Keys())).Msg("Site fixes reloaded")
	})

	log.Info().Msg("Launching browser...")
	b, err := browser.Launch(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("Browser close error")
		}
	}()

	sessions := session.NewManager(cfg, session.BrowserOpener{Browser: b}, session.Deps{
		Store:    store,
		Fixes:    fixes,
		Location: time.Local,
		Version:  version.Full(),
	})
	openStartURLs(ctx, cfg, sessions)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPM, time.Minute, nil)
	mws := []func(http.Handler) http.Handler{
		middleware.Recovery,
		chimw.RequestID,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
	}
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		mws = append(mws, limiter.Handler(cfg.TrustProxy))
	}
	mws = append(mws, middleware.APIKey(cfg))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handlers.NewRouter(handlers.New(sessions, cfg, b), mws...),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.MaxTimeout + 10*time.Second,
		WriteTimeout:      cfg.MaxTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopCh := make(chan struct{})
	var extra []*http.Server

	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		extra = append(extra, listen("Prometheus metrics", &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.PrometheusPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}))
	}

	if cfg.PProfEnabled {
		log.Warn().Msg("pprof exposes runtime internals, use for debugging only")
		extra = append(extra, listen("pprof", &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort),
			Handler:      http.DefaultServeMux,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		}))
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Int("max_sessions", cfg.MaxSessions).
			Int("sessions", sessions.Count()).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Msg("Dark mode service is ready to accept requests")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.TUIEnabled {
		go func() {
			if err := tui.Run(ctx, tui.ManagerBackend{Manager: sessions}); err != nil {
				log.Error().Err(err).Msg("Control panel failed")
			}
			// Leaving the panel stops the service.
			stop()
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	log.Info().Msg("Shutting down...")
	close(stopCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	for _, s := range extra {
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", s.Addr).Msg("Server shutdown error")
		}
	}
	if err := sessions.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Session manager close error")
	}

	log.Info().Msg("Shutdown complete")
	return runErr
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.StorePath == "" {
		log.Info().Msg("Using in-memory settings store")
		return storage.NewMemory(), nil
	}
	s, err := storage.OpenSQLite(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info().Str("path", cfg.StorePath).Msg("Using SQLite settings store")
	return s, nil
}

// openStartURLs opens one session per configured URL. Failures are logged
// and skipped.
func openStartURLs(ctx context.Context, cfg *config.Config, sessions *session.Manager) {
	for _, u := range cfg.StartURLs {
		s, err := sessions.Create(ctx, "", u, browser.Emulation{})
		if err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Failed to open start URL")
			continue
		}
		log.Info().Str("session_id", s.ID).Str("url", u).Msg("Opened start URL")
	}
}

func listen(name string, s *http.Server) *http.Server {
	go func() {
		log.Info().Str("addr", s.Addr).Msg(name + " server started")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg(name + " server failed")
		}
	}()
	return s
}

// setupLogging configures the global logger. With the terminal panel on,
// logs go to a file so they do not tear the display; the file is
// returned for closing.
func setupLogging(cfg *config.Config) *os.File {
	var out io.Writer = os.Stdout
	var file *os.File
	if cfg.TUIEnabled {
		path := filepath.Join(os.TempDir(), "darkmode.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			out, file = f, f
		}
	}

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    file != nil,
		})
	}
	setLevel(cfg.LogLevel)
	return file
}

func setLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config, logFile *os.File) {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#e8eaed")).
		Background(lipgloss.Color("#202124")).
		Padding(0, 2).
		Render("☾ darkmode " + version.Full())
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("#909090"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, sub.Render(fmt.Sprintf("  api http://%s:%d/v1", cfg.Host, cfg.Port)))
	if logFile != nil {
		fmt.Fprintln(w, sub.Render("  logs "+logFile.Name()))
	}
	fmt.Fprintln(w)

	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting darkmode")
}
