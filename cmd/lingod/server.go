package main

import (
	"context"
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

	"github.com/okhotin/lingod/internal/api"
	"github.com/okhotin/lingod/internal/config"
	"github.com/okhotin/lingod/internal/event"
	"github.com/okhotin/lingod/internal/models"
	"github.com/okhotin/lingod/internal/ollama"
	"github.com/okhotin/lingod/internal/provider"
	"github.com/okhotin/lingod/internal/storage"
	"github.com/okhotin/lingod/internal/translator"
	"github.com/okhotin/lingod/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lingod server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running lingod server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lingod system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "lingod.pid")
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

// resolverModels adapts the local model resolver to the API's model
// listing interface.
type resolverModels struct {
	resolver *models.Resolver
}

func (r resolverModels) ListModels(ctx context.Context) ([]string, error) {
	return r.resolver.List(ctx)
}

// buildProvider wires the configured translation backend: a managed
// worker subprocess for "local", an Ollama server for "remote". The
// returned cleanup tears the backend down.
func buildProvider(ctx context.Context, cfg config.Config) (provider.Provider, api.ModelLister, func(), error) {
	switch cfg.Translate.Provider {
	case "local":
		resolver := models.NewResolver(cfg.Worker.ModelsDir)
		mgr := worker.NewManager(resolver, worker.Spawn(worker.Options{
			Command: strings.Fields(cfg.Worker.Command),
		}), slog.Default())
		return provider.NewLocal(mgr, slog.Default()), resolverModels{resolver}, func() { mgr.Close() }, nil

	case "remote":
		client := ollama.New(cfg.Ollama.BaseURL)
		if !client.IsRunning(ctx) {
			return nil, nil, nil, fmt.Errorf("ollama server not reachable at %s", cfg.Ollama.BaseURL)
		}
		if cfg.Translate.DefaultModel != "" {
			if err := models.EnsureRemote(ctx, client, cfg.Translate.DefaultModel, os.Stderr); err != nil {
				return nil, nil, nil, err
			}
		}
		return provider.NewRemote(client, cfg.Ollama.Concurrency, slog.Default()), client, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown translate.provider %q (want local or remote)", cfg.Translate.Provider)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "lingod version %s\n", version)

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

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("lingod is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("lingod is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
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

	// Build the translation backend and coordinator.
	prov, lister, cleanup, err := buildProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	bus := event.NewBus()
	coord := translator.New(prov, store, bus, slog.Default())

	handler := api.NewHandler(api.Deps{
		Translator: coord,
		Models:     lister,
		History:    store,
		Token:      cfg.Server.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Translator:   coord,
		Models:       lister,
		History:      store,
		DefaultModel: cfg.Translate.DefaultModel,
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
		fmt.Fprintf(os.Stderr, "lingod listening on %s\n", addr)
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
		printError("lingod is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop lingod (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to lingod (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
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

	printStatus("Provider", "%s", cfg.Translate.Provider)
	printStatus("Default model", "%s", cfg.Translate.DefaultModel)

	if cfg.Translate.Provider == "remote" {
		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	} else {
		printStatus("Models dir", "%s", cfg.Worker.ModelsDir)
	}

	// Show recent request count if the server is up.
	if running {
		if apiCl, err := newAPIClient(); err == nil {
			if resp, err := apiCl.get(context.Background(), "/v1/requests?limit=100"); err == nil {
				var list struct {
					Requests []struct {
						ID string `json:"id"`
					} `json:"requests"`
				}
				if decodeJSON(resp, &list) == nil {
					printStatus("Requests", "%s", countLabel(len(list.Requests), 100))
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
