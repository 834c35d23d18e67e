package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lokutor-ai/lokutor-live/pkg/config"
	"github.com/lokutor-ai/lokutor-live/pkg/device"
	"github.com/lokutor-ai/lokutor-live/pkg/live"
	"github.com/lokutor-ai/lokutor-live/pkg/logging"
	"github.com/lokutor-ai/lokutor-live/pkg/providers/gemini"
	"github.com/lokutor-ai/lokutor-live/pkg/providers/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	flags      map[string]*string
	meter      bool
}

// flagEnv maps command-line flags onto the config environment keys so flags
// take precedence over everything else.
var flagEnv = map[string]string{
	"transport":    "TRANSPORT",
	"voice":        "VOICE",
	"relay-url":    "RELAY_URL",
	"record":       "RECORD_PATH",
	"metrics-addr": "METRICS_ADDR",
	"log-level":    "LOG_LEVEL",
	"model":        "MODEL",
}

func newRootCmd() *cobra.Command {
	opts := &options{flags: make(map[string]*string)}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Talk to a live voice agent from the terminal",
		Long: `Talk to a live voice agent from the terminal.

Speech from the default microphone is streamed to the agent and its replies
are played on the default speaker. Lines typed on stdin are sent as text;
"/quit" ends the session.

Configuration is read from an optional YAML file, a .env file and
LIVEVOICE_* environment variables (GOOGLE_API_KEY for Gemini).

Examples:
  agent --voice Kore
  agent --transport relay --relay-url wss://relay.example.com/live
  agent -c agent.yaml --record reply.wav --metrics-addr :9090`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := make(map[string]string)
			for name, v := range opts.flags {
				if cmd.Flags().Changed(name) {
					set[envKey(name)] = *v
				}
			}
			loader := config.NewLoader().WithPath(opts.configPath)
			loader.Lookup = overlay(set, os.LookupEnv)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.meter, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&opts.meter, "meter", false, "show the agent's output level")
	for name, usage := range map[string]string{
		"transport":    "gemini or relay",
		"voice":        "agent voice (Zephyr, Kore, Puck, Charon, Fenrir, Aoede, Leda, Orus)",
		"relay-url":    "websocket URL of the relay",
		"record":       "write the agent's audio to this WAV file when the session ends",
		"metrics-addr": "serve Prometheus metrics on this address",
		"log-level":    "debug, info, warn or error",
		"model":        "live model name",
	} {
		opts.flags[name] = cmd.Flags().String(name, "", usage)
	}
	return cmd
}

func envKey(flag string) string {
	return config.EnvPrefix + flagEnv[flag]
}

func overlay(set map[string]string, base func(string) (string, bool)) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := set[key]; ok {
			return v, true
		}
		return base(key)
	}
}

func newTransport(ctx context.Context, cfg config.Config) (live.Transport, error) {
	switch cfg.Transport {
	case config.TransportRelay:
		return relay.New(cfg.RelayURL, cfg.APIKey)
	default:
		return gemini.New(ctx, cfg.APIKey)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func run(ctx context.Context, cfg config.Config, meter bool, in io.Reader, out io.Writer) error {
	zl := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := logging.NewAdapter(zl)
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := live.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, zl)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	var rec *recorder
	if cfg.RecordPath != "" {
		rec = newRecorder()
		transport = rec.Wrap(transport)
	}

	ctrl := live.NewSessionControllerWithLogger(transport, device.NewMicrophone(), device.NewSpeaker(), cfg.LiveConfig(), logger, metrics)
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ended := make(chan struct{})
	go printEvents(ctrl.Events(), out, meter, ended)

	fmt.Fprintf(out, "Connecting via %s as %s...\n", transport.Name(), ctrl.GetConfig().Voice)
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Live. Speak, or type a message. /quit to exit.")

	go readLines(in, ctrl, stop, logger)

	select {
	case <-ctx.Done():
	case <-ended:
	}
	ctrl.Stop()
	fmt.Fprintln(out, "\nSession ended.")

	if rec != nil {
		if err := rec.WriteFile(cfg.RecordPath); err != nil {
			logger.Error("failed to write recording", "path", cfg.RecordPath, "error", err)
		} else {
			fmt.Fprintf(out, "Saved agent audio to %s\n", cfg.RecordPath)
		}
	}
	return ctrl.Err()
}

func readLines(in io.Reader, ctrl *live.SessionController, quit func(), logger live.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" {
			quit()
			return
		}
		if err := ctrl.SendText(line); err != nil {
			logger.Warn("text not sent", "error", err)
			if errors.Is(err, live.ErrNotActive) {
				return
			}
		}
	}
}

// printEvents renders controller events and closes ended once the session
// leaves the active state.
func printEvents(events <-chan live.Event, out io.Writer, meter bool, ended chan<- struct{}) {
	p := &transcriptPrinter{w: out}
	wasActive := false
	signalled := false
	for ev := range events {
		switch ev.Type {
		case live.StateChanged:
			state := ev.Data.(live.State)
			if state == live.StateActive {
				wasActive = true
			}
			if wasActive && !signalled && (state == live.StateClosed || state == live.StateError) {
				signalled = true
				close(ended)
			}
		case live.TranscriptUpdated:
			p.Update(ev.Data.([]live.TranscriptTurn))
		case live.Interrupted:
			fmt.Fprintf(out, "\r\033[K[INTERRUPTED] flushed %v buffers\n", ev.Data)
		case live.ErrorEvent:
			fmt.Fprintf(out, "\r\033[K[ERROR] %v\n", ev.Data)
		case live.AudioLevel:
			if meter {
				fmt.Fprint(out, levelBar(ev.Data.(float64)))
			}
		}
	}
	if !signalled {
		close(ended)
	}
}

func levelBar(level float64) string {
	dots := min(max(int(level*200), 0), 40)
	return fmt.Sprintf("\r[AGENT: %-40s] %.3f", strings.Repeat("|", dots), level)
}

// transcriptPrinter prints closed turns once and keeps the open turn on the
// current line.
type transcriptPrinter struct {
	w       io.Writer
	printed int
}

func (p *transcriptPrinter) Update(turns []live.TranscriptTurn) {
	if p.printed > len(turns) {
		p.printed = 0
	}
	for p.printed < len(turns) && !turns[p.printed].Open {
		t := turns[p.printed]
		fmt.Fprintf(p.w, "\r\033[K[%s] %s\n", label(t.Role), t.Text)
		p.printed++
	}
	if p.printed < len(turns) {
		t := turns[p.printed]
		fmt.Fprintf(p.w, "\r\033[K[%s] %s", label(t.Role), t.Text)
	}
}

func label(r live.Role) string {
	if r == live.RoleUser {
		return "YOU"
	}
	return "AGENT"
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
