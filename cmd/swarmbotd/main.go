// Command swarmbotd is the Coordinator process entry point: it loads
// config.yaml, wires the Message Bus, Event Stream, Agent Registry,
// Task Queue, and Dispatcher into a running Coordinator, registers a
// starter pool of specialist agents, and serves a read-only status/
// health endpoint until told to shut down.
//
// Grounded on cmd/goclaw/main.go's wiring sequence (config.Load →
// telemetry.NewLogger → slog.SetDefault → open listener with
// SO_REUSEADDR → serve → graceful shutdown) and cmd/goclaw/status.go's
// /healthz probe convention.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/joelfuller2016/swarmbot/internal/agentrt"
	"github.com/joelfuller2016/swarmbot/internal/config"
	"github.com/joelfuller2016/swarmbot/internal/coordinator"
	"github.com/joelfuller2016/swarmbot/internal/eventsink"
	"github.com/joelfuller2016/swarmbot/internal/eventstream"
	"github.com/joelfuller2016/swarmbot/internal/recurring"
	"github.com/joelfuller2016/swarmbot/internal/specialist"
	"github.com/joelfuller2016/swarmbot/internal/taskqueue"
	"github.com/joelfuller2016/swarmbot/internal/telemetry"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                  Start the Coordinator daemon
  %s status           Query the running daemon's /healthz endpoint

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  SWARMBOT_HOME       Data directory (default: ~/.swarmbot)
  SWARMBOT_LOG_LEVEL  Overrides config.yaml's log_level

EXAMPLES:
  Start the daemon:    %s
  Check health:         %s status
`, os.Args[0], os.Args[0])
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	if args := flag.Args(); len(args) > 0 && strings.EqualFold(args[0], "status") {
		os.Exit(runStatusCommand())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	quietLogs := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	otelProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		StdoutFallback: cfg.Telemetry.StdoutFallback,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	schemas := taskqueue.NewSchemaRegistry()
	if cfg.StrictRequiredCapabilities {
		if err := registerBuiltinSchemas(schemas); err != nil {
			fatalStartup(logger, "E_SCHEMA_REGISTER", err)
		}
	}

	coord := coordinator.New(coordinator.Config{
		MaxPendingTasks:          cfg.MaxPendingTasks,
		DefaultTaskDeadline:      cfg.DefaultTaskDeadline(),
		CancelGrace:              cfg.CancelGrace(),
		HeartbeatInterval:        cfg.AgentHeartbeatInterval(),
		UnreachableMultiplier:    cfg.AgentUnreachableMultiplier,
		RetryBaseDelay:           cfg.RetryBaseDelay(),
		RetryMaxDelay:            cfg.RetryMaxDelay(),
		EventRingCapacity:        cfg.EventRingCapacity,
		EventBatchWindow:         cfg.EventBatchWindow(),
		TerminalRetention:        cfg.TerminalRetention(),
		StrictRequiredCapability: cfg.StrictRequiredCapabilities,
		PayloadValidator:         schemas,
		Logger:                   logger,
		Metrics:                  otelProvider.Metrics,
	})

	if err := coord.Start(ctx); err != nil {
		fatalStartup(logger, "E_COORDINATOR_START", err)
	}
	logger.Info("startup phase", "phase", "coordinator_started")

	registerStarterAgents(coord, logger)

	var sink io.Closer
	if cfg.EventSink.Enabled {
		opened, err := eventsink.Open(cfg.EventSink.DSN, logger)
		if err != nil {
			logger.Warn("event sink disabled after init failure", "error", err)
		} else {
			sink = opened
			go opened.Run(ctx, coord.Stream, eventstream.Filter{}, 0)
		}
	}
	if sink != nil {
		defer sink.Close()
	}

	recurringSched := recurring.NewScheduler(recurring.Config{Submitter: coord, Logger: logger})
	recurringSched.Start(ctx)
	defer recurringSched.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", "error", err)
	}
	go func() {
		for ev := range watcher.Events() {
			logger.Info("config changed, tunables will apply on next restart", "path", ev.Path)
		}
	}()

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: statusHandler(coord, cfg),
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w\n\n  %s", err, portOccupantHint(cfg.BindAddr)))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("status endpoint listening", "addr", cfg.BindAddr)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("status server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CancelGrace())
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if err := coord.Stop(); err != nil {
		logger.Warn("coordinator stop reported an error", "error", err)
	}
	logger.Info("shutdown complete")
}

// registerStarterAgents registers one agent per specialist kind with a
// no-op / reference Processor, giving the Dispatcher a candidate pool
// to assign against out of the box. Deployments that need a real LLM
// or MCP backend swap these for internal/llmclient.NewHTTPClient- and
// internal/mcpclient.NewJSONRPCClient-backed specialists.
func registerStarterAgents(coord *coordinator.Coordinator, logger *slog.Logger) {
	starters := []struct {
		id           string
		capabilities []string
		processor    agentrt.Processor
	}{
		{"research-1", []string{"research"}, specialist.Research{}},
		{"code-1", []string{"code"}, specialist.Code{}},
		{"monitor-1", []string{"monitor"}, specialist.Monitor{}},
		{"validator-1", []string{"validate"}, specialist.Validator{}},
	}
	for _, s := range starters {
		if err := coord.RegisterAgent(coordinator.AgentRegistration{
			ID:            s.id,
			Capabilities:  s.capabilities,
			MaxConcurrent: 2,
			Processor:     s.processor,
		}); err != nil {
			logger.Warn("failed to register starter agent", "agent_id", s.id, "error", err)
		}
	}
}

func statusHandler(coord *coordinator.Coordinator, cfg config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		agents := coord.Registry.All()
		payload := map[string]any{
			"healthy":           true,
			"agent_count":       len(agents),
			"pending_tasks":     coord.Queue.Len(),
			"config_fingerprint": cfg.Fingerprint(),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/tasks/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/tasks/")
		snap, ok := coord.Query(id)
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	return mux
}

func registerBuiltinSchemas(reg *taskqueue.SchemaRegistry) error {
	schemas := map[string]string{
		"research": `{"type":"object","required":["prompt"],"properties":{"prompt":{"type":"string","minLength":1}}}`,
		"code":     `{"type":"object","required":["instruction"],"properties":{"instruction":{"type":"string","minLength":1}}}`,
	}
	for taskType, schema := range schemas {
		if err := reg.Register(taskType, schema); err != nil {
			return fmt.Errorf("register schema for %q: %w", taskType, err)
		}
	}
	return nil
}

func runStatusCommand() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	addr := cfg.BindAddr
	if host, port, splitErr := net.SplitHostPort(addr); splitErr == nil {
		addr = net.JoinHostPort(host, port)
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

func portOccupantHint(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("Another process is using %s. Stop it first or change bind_addr in config.yaml.", addr)
	}
	out, err := exec.Command("lsof", "-ti", ":"+port).Output()
	if err == nil && strings.TrimSpace(string(out)) != "" {
		pid := strings.TrimSpace(string(out))
		return fmt.Sprintf("Port %s is occupied by PID %s. Kill it with: kill %s", port, pid, pid)
	}
	return fmt.Sprintf("Port %s is already in use. Stop the existing process or change bind_addr in config.yaml.", port)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
