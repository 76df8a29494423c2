// Command devicesim serves the device side of the panel protocol so the panel
// CLI can be exercised without real hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"

	"github.com/lightforgemedia/go-panelsync/internal/config"
	"github.com/lightforgemedia/go-panelsync/pkg/devicesim"
	"github.com/lightforgemedia/go-panelsync/pkg/model"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	homeID := flag.String("home", devicesim.DefaultHomeID, "home id stamped on replies")
	mode := flag.String("mode", string(model.ModeDisarm), "initial mode")
	pingEvery := flag.Duration("ping", 0, "ping connected panels at this interval (0 disables)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	level, err := config.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	dev := devicesim.New(
		devicesim.WithLogger(logger),
		devicesim.WithHomeID(*homeID),
		devicesim.WithInitialMode(model.Mode(*mode)),
		devicesim.WithAcceptOptions(&websocket.AcceptOptions{InsecureSkipVerify: true}),
	)

	mux := http.NewServeMux()
	mux.Handle("/ws", dev)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "OK %s connections=%d\n", dev.Mode(), dev.Connections())
	})

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *pingEvery > 0 {
		go func() {
			ticker := time.NewTicker(*pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					dev.Ping()
				}
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Device simulator starting", "address", *addr+"/ws", "device", dev.String())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Received signal, shutting down...")
	}

	dev.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Device simulator stopped.")
}
