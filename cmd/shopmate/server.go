package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/oshelest/shopmate/internal/agent"
	"github.com/oshelest/shopmate/internal/api"
	"github.com/oshelest/shopmate/internal/archive"
	"github.com/oshelest/shopmate/internal/assistant"
	"github.com/oshelest/shopmate/internal/config"
	"github.com/oshelest/shopmate/internal/content"
	"github.com/oshelest/shopmate/internal/conversation"
	"github.com/oshelest/shopmate/internal/insights"
	"github.com/oshelest/shopmate/internal/session"
	"github.com/oshelest/shopmate/internal/storage"
	"github.com/oshelest/shopmate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shopmate daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running shopmate daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shopmate system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "shopmate.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "shopmate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if a daemon is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("shopmate is already running (PID %d)", pid)
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		printWarning("shopmate is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("daemon already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Load the embedded content library and the insight engine over it.
	lib, err := content.Load()
	if err != nil {
		return fmt.Errorf("loading content library: %w", err)
	}
	resolver := insights.New(lib)
	importer := content.NewImporter(lib, &http.Client{Timeout: 15 * time.Second})

	backend := agent.NewClient(cfg.Webhook.URL, time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second)
	tracker := telemetry.NewTracker(store)

	var archiver assistant.Archiver
	if cfg.Archive.Enabled {
		archiver = archive.New(store)
	}
	factory := func(cs *conversation.Store, authContext string) api.Assistant {
		opts := []assistant.Option{assistant.WithTracker(tracker)}
		if archiver != nil {
			opts = append(opts, assistant.WithArchiver(archiver))
		}
		if authContext != "" {
			opts = append(opts, assistant.WithAuthContext(authContext))
		}
		return assistant.New(cs, backend, resolver, opts...)
	}

	// Per-session conversation stores with idle eviction.
	sessions := session.NewManager(time.Duration(cfg.Session.TTLMinutes)*time.Minute, 0)
	go sessions.Run(ctx)

	// Start the telemetry delivery worker when a sink is configured.
	// Without a sink, events stay queued in storage and tracking is
	// effectively local-only.
	if cfg.Telemetry.SinkURL != "" {
		worker := telemetry.NewWorker(store, cfg.Telemetry.SinkURL, 0)
		go worker.Run(ctx)
		slog.Info("telemetry worker started", "sink", cfg.Telemetry.SinkURL)
	}

	handler := api.NewHandler(api.Deps{
		Sessions:  sessions,
		Assistant: factory,
		Library:   lib,
		Importer:  importer,
		Tracker:   tracker,
		Token:     cfg.Auth.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Library:   lib,
		Assistant: factory,
		Sessions:  sessions,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "shopmate listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("shopmate is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop shopmate (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to shopmate (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check daemon health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Webhook", "%s", cfg.Webhook.URL)
	if cfg.Archive.Enabled {
		printStatus("Archive", "enabled")
	} else {
		printStatus("Archive", "disabled")
	}
	if cfg.Telemetry.SinkURL != "" {
		printStatus("Telemetry sink", "%s", cfg.Telemetry.SinkURL)
	} else {
		printStatus("Telemetry sink", "not configured")
	}

	// Show content counts if the daemon is running.
	if running {
		if kbResp, err := apiGet(client, serverURL+"/v1/kb", cfg.Auth.Token); err == nil {
			var articles []json.RawMessage
			if json.NewDecoder(kbResp.Body).Decode(&articles) == nil {
				printStatus("KB articles", "%d", len(articles))
			}
			kbResp.Body.Close()
		}
		if clResp, err := apiGet(client, serverURL+"/v1/checklists", cfg.Auth.Token); err == nil {
			var checklists []json.RawMessage
			if json.NewDecoder(clResp.Body).Decode(&checklists) == nil {
				printStatus("Checklists", "%d", len(checklists))
			}
			clResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return client.Do(req)
}
