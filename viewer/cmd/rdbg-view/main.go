package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/remdbg/remdbg/pkg/client"
	"github.com/remdbg/remdbg/viewer/internal/api"
	"github.com/remdbg/remdbg/viewer/internal/config"
	"github.com/remdbg/remdbg/viewer/internal/receiver"
	"github.com/remdbg/remdbg/viewer/internal/render"
	"github.com/remdbg/remdbg/viewer/internal/store"
	"github.com/remdbg/remdbg/viewer/internal/ws"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// wsBacklog is how many stored messages a new WebSocket client receives.
const wsBacklog = 100

func main() {
	rootCmd := viewCmd()
	rootCmd.AddCommand(
		statsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type viewFlags struct {
	configPath string
	port       int
	format     string
	debugFmt   bool
	listen     bool
	httpAddr   string
	noColor    bool
	retry      time.Duration
	verbose    bool
}

func viewCmd() *cobra.Command {
	var f viewFlags

	cmd := &cobra.Command{
		Use:   "rdbg-view [host]",
		Short: "Show debug messages sent by an instrumented program",
		Long: `rdbg-view connects to a program instrumented with remdbg and prints
every message and value dump it sends, reconnecting whenever the program
restarts.

With --listen the viewer accepts producers running in dial mode instead.
With --http-addr the received history is also served as JSON and streamed
over a WebSocket at /ws/stream.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f, args)
			if err != nil {
				return err
			}
			setupLogging(f.verbose)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return view(ctx, cfg)
		},
	}

	bindViewFlags(cmd.Flags(), &f)

	return cmd
}

func bindViewFlags(flags *pflag.FlagSet, f *viewFlags) {
	flags.StringVarP(&f.configPath, "config", "c", "", "path to a viewer config file")
	flags.IntVarP(&f.port, "port", "p", 13579, "producer port")
	flags.StringVar(&f.format, "format", render.FormatPlain, "output format: plain|structured")
	flags.BoolVarP(&f.debugFmt, "debug-fmt", "d", false, "shorthand for --format structured")
	flags.BoolVarP(&f.listen, "listen", "l", false, "accept producers running in dial mode")
	flags.StringVar(&f.httpAddr, "http-addr", "", "serve the JSON API and WebSocket stream on this address")
	flags.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	flags.DurationVar(&f.retry, "retry", config.DefaultRetryInterval, "pause between reconnect attempts")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log viewer internals to stderr")
}

// resolveConfig layers the config file (if any), then explicitly set flags,
// then the positional host over the defaults.
func resolveConfig(cmd *cobra.Command, f viewFlags, args []string) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if len(args) == 1 {
		cfg.Host = args[0]
	}
	if flags.Changed("port") {
		cfg.Port = f.port
	}
	if flags.Changed("format") {
		cfg.Format = f.format
	}
	if f.debugFmt {
		cfg.Format = config.FormatStructured
	}
	if f.listen {
		cfg.Mode = config.ModeListen
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if f.noColor {
		cfg.Color = false
	}
	if flags.Changed("retry") {
		cfg.RetryInterval = f.retry
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("viewer config: %w", err)
	}
	return cfg, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	// Messages own stdout; logs go to stderr next to the banners.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func view(ctx context.Context, cfg *config.Config) error {
	printer := render.New(os.Stdout, os.Stderr, cfg.Format, cfg.Color)
	target := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	// Message history with background TTL eviction.
	st := store.New(cfg.History.Size, cfg.History.TTL)
	go st.Run(ctx)

	var pub receiver.Publisher
	var hub *ws.Hub
	if cfg.HTTPAddr != "" {
		hub = ws.New(st, wsBacklog)
		go hub.Run(ctx)
		pub = hub
	}
	rec := receiver.New(st, printer, pub, cfg.Mode, target)

	if hub != nil {
		router := api.New(st, rec)
		router.Handle("/ws/stream", hub)
		httpSrv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server stopped", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	ccfg := client.DefaultConfig()
	ccfg.RetryInterval = cfg.RetryInterval

	if cfg.Mode == config.ModeListen {
		l, err := client.Listen(cfg.Host, cfg.Port, ccfg)
		if err != nil {
			return err
		}
		defer l.Close()
		printer.Listening(l.Addr().String())
		rec.Run(ctx, l.Follow(ctx))
	} else {
		printer.Trying(target)
		rec.Run(ctx, client.Follow(ctx, cfg.Host, cfg.Port, ccfg))
	}
	printer.Exiting()

	// The sequence only ends early on a fatal error such as a protocol
	// version mismatch.
	if ctx.Err() == nil {
		return fmt.Errorf("stopped: %s", rec.Status().LastError)
	}
	return nil
}
