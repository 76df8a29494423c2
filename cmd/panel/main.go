// Command panel runs a control-panel session against the home gateway. It
// reads commands from stdin, logs every client event, serves Prometheus
// metrics and optionally mirrors events to NATS.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lightforgemedia/go-panelsync/internal/config"
	"github.com/lightforgemedia/go-panelsync/pkg/client"
	"github.com/lightforgemedia/go-panelsync/pkg/eventbus"
	"github.com/lightforgemedia/go-panelsync/pkg/eventmirror"
	"github.com/lightforgemedia/go-panelsync/pkg/filewatcher"
	"github.com/lightforgemedia/go-panelsync/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config (default $PANEL_CONFIG)")
	envFile := flag.String("env", ".env", "optional .env file")
	urlFlag := flag.String("url", "", "service URL, overrides config and environment")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := newLogger(os.Stderr, level)

	if err := run(*configPath, *envFile, *urlFlag, level, logger); err != nil {
		logger.Error("Panel: exiting", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return a
		},
	}))
}

func run(configPath, envFile, urlFlag string, level *slog.LevelVar, logger *slog.Logger) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	if urlFlag != "" {
		os.Setenv(config.EnvURL, urlFlag)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level.Set(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := cfg.ClientOptions(client.DefaultOptions())
	opts.Logger = logger
	opts.Metrics = metrics.New(reg)
	cli, err := client.NewWithOptions(cfg.URL, opts)
	if err != nil {
		return err
	}
	defer cli.Close()
	logger.Info("Panel: client created", "clientID", cli.ID(), "url", cfg.URL)

	events, cancelEvents := cli.Events()
	defer cancelEvents()
	go logEvents(logger, events)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, cli, logger)
		defer shutdown(srv, logger)
	}

	if cfg.NATS.URL != "" {
		mirror, err := eventmirror.Connect(eventmirror.Options{
			URL:      cfg.NATS.URL,
			Prefix:   cfg.NATS.Prefix,
			Instance: cli.ID(),
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("Panel: NATS mirror disabled", "error", err)
		} else {
			defer mirror.Close()
			go func() {
				if err := mirror.Run(ctx, cli); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Panel: mirror stopped", "error", err)
				}
			}()
		}
	}

	if cfg.Path != "" {
		w, err := watchConfig(cfg, cli, level, logger)
		if err != nil {
			logger.Warn("Panel: config reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	if err := cli.Connect(); err != nil {
		logger.Warn("Panel: initial connect failed", "error", err)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	fmt.Fprintln(os.Stdout, helpText)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Panel: shutting down", "clientID", cli.ID())
			return nil
		case line, ok := <-lines:
			if !ok {
				logger.Info("Panel: stdin closed, shutting down")
				return nil
			}
			if quit := handleLine(ctx, cli, line, os.Stdout); quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

func handleLine(ctx context.Context, cli *client.Client, line string, out io.Writer) (quit bool) {
	req, err := parseLine(line)
	if err != nil {
		fmt.Fprintln(out, err)
		return false
	}

	switch req.action {
	case actionSend:
		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		id, err := cli.SendCommandTo(sendCtx, req.command, req.target)
		cancel()
		switch {
		case err != nil:
			fmt.Fprintf(out, "send %q failed: %v\n", req.command, err)
		case id == "":
			fmt.Fprintf(out, "%s answered from cache or already in flight\n", req.command)
		default:
			fmt.Fprintf(out, "%s submitted as %s\n", req.command, id)
		}
	case actionState:
		if snap, ok := cli.CachedState(); ok {
			fmt.Fprintf(out, "mode=%s age=%s state=%s\n", snap.Mode, time.Since(snap.ObservedAt).Round(time.Second), snap.Payload)
		} else {
			fmt.Fprintln(out, "no fresh state, refresh requested")
		}
	case actionStatus:
		st := cli.Status()
		fmt.Fprintf(out, "state=%s url=%s queued=%d deferred=%d pending=%d attempts=%d serverErrors=%d\n",
			st.State, st.URL, st.Queued, st.Deferred, st.Pending,
			st.Backoff.ReconnectAttempts, st.Backoff.ConsecutiveServerErrors)
	case actionConnect:
		report(out, "connect", cli.Connect())
	case actionDisconnect:
		report(out, "disconnect", cli.Disconnect())
	case actionReset:
		report(out, "reset", cli.ResetReconnection())
	case actionURL:
		report(out, "url", cli.SetURL(req.arg))
	case actionHelp:
		fmt.Fprintln(out, helpText)
	case actionQuit:
		return true
	}
	return false
}

func report(out io.Writer, what string, err error) {
	if err != nil {
		fmt.Fprintf(out, "%s failed: %v\n", what, err)
		return
	}
	fmt.Fprintf(out, "%s ok\n", what)
}

func logEvents(logger *slog.Logger, events <-chan eventbus.Event) {
	for ev := range events {
		attrs := []any{"event", ev.Name}
		switch p := ev.Payload.(type) {
		case client.CommandAckEvent:
			attrs = append(attrs, "commandId", p.CommandID, "name", p.Name, "success", p.Success, "latency", p.Latency)
		case client.CommandTimeoutEvent:
			attrs = append(attrs, "commandId", p.CommandID, "name", p.Name, "settled", p.Settled)
		case client.SystemStateEvent:
			attrs = append(attrs, "mode", p.Snapshot.Mode, "source", p.Source, "cached", p.Cached)
		case client.DisconnectedEvent:
			attrs = append(attrs, "code", p.Code, "reason", p.Reason, "error", p.Err)
		case client.ErrorEvent:
			attrs = append(attrs, "kind", p.Kind, "error", p.Err)
		default:
			attrs = append(attrs, "payload", p)
		}
		switch ev.Name {
		case client.EventError, client.EventConnectionFailedPermanently, client.EventCommandTimeout:
			logger.Warn("Panel: event", attrs...)
		default:
			logger.Info("Panel: event", attrs...)
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, cli *client.Client, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if cli.ConnState() != client.StateOpen {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, cli.ConnState())
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Panel: metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Panel: metrics server failed", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Panel: metrics shutdown", "error", err)
	}
}

// watchConfig reloads the log level and service URL when the config file
// changes. Other settings need a restart.
func watchConfig(cfg config.Config, cli *client.Client, level *slog.LevelVar, logger *slog.Logger) (*filewatcher.Watcher, error) {
	w, err := filewatcher.New(filewatcher.WithLogger(logger), filewatcher.WithFiles(cfg.Path))
	if err != nil {
		return nil, err
	}
	current := cfg
	w.OnChange(func(ch filewatcher.Change) {
		if ch.Removed {
			logger.Warn("Panel: config file removed, keeping current settings", "file", ch.Path)
			return
		}
		next, err := config.Load(cfg.Path)
		if err != nil {
			logger.Warn("Panel: config reload failed", "error", err)
			return
		}
		if next.Level() != current.Level() {
			level.Set(next.Level())
			logger.Info("Panel: log level changed", "level", next.Level())
		}
		if next.URL != current.URL {
			if err := cli.SetURL(next.URL); err != nil {
				logger.Warn("Panel: url change failed", "error", err)
				return
			}
			logger.Info("Panel: url changed", "url", next.URL)
		}
		current = next
	})
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return nil, err
	}
	return w, nil
}
