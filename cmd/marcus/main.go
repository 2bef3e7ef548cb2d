// Marcus coordination server.
// Stdio for a directly attached agent, HTTP for agent fleets.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus-coord/marcus/internal/advisor"
	"github.com/marcus-coord/marcus/internal/app"
	"github.com/marcus-coord/marcus/internal/board/factory"
	"github.com/marcus-coord/marcus/internal/config"
	"github.com/marcus-coord/marcus/internal/events"
	"github.com/marcus-coord/marcus/internal/store"
	"github.com/marcus-coord/marcus/internal/tools"
)

// Version is set by -ldflags at build time.
var Version = "dev"

// Exit codes follow sysexits: 64 for unusable config, 69 for an unreachable
// board provider when require_provider_on_start is set, 70 for runtime
// failures.
const (
	exitOK          = 0
	exitUsage       = 64
	exitUnavailable = 69
	exitSoftware    = 70
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "config file (default: $MARCUS_CONFIG or ~/.config/marcus/config.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("marcus " + Version)
		return exitOK
	}

	path := *configPath
	if path == "" {
		path = os.Getenv("MARCUS_CONFIG")
	}
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marcus: config: %v\n", err)
		return exitUsage
	}

	logger := setupLogger(cfg.Logging.Directory)
	logger.Printf("Starting marcus %s (provider=%s)", Version, cfg.Provider)

	ev, err := events.New(cfg.Logging.Directory, events.ParseLevel(cfg.Logging.Level), logger)
	if err != nil {
		logger.Printf("Event log: %v", err)
		return exitSoftware
	}
	defer func() { _ = ev.Close() }()

	board, err := factory.New(cfg, logger)
	if err != nil {
		logger.Printf("Provider setup: %v", err)
		return exitUsage
	}
	defer func() { _ = board.Close() }()

	coord := app.New(store.New(), board, buildAdvisor(cfg, logger), ev, logger,
		app.WithRetryLimit(cfg.Assignment.AssignmentRetryLimit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RequireProviderOnStart {
		if err := coord.PingBoard(ctx); err != nil {
			logger.Printf("Provider unreachable: %v", err)
			return exitUnavailable
		}
	} else if err := coord.PingBoard(ctx); err != nil {
		logger.Printf("Warning: provider unreachable at startup, continuing degraded: %v", err)
	}

	registry := app.NewSessionRegistry()
	sessions := newSessionStore()

	hooks := &server.Hooks{}
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			sessions.set(session.SessionID(), session)
		}
		if message != nil {
			ci := message.Params.ClientInfo
			logger.Printf("Client: %s %s, Protocol: %s", ci.Name, ci.Version, message.Params.ProtocolVersion)
		}
	})
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Tool called: %s", message.Params.Name)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sid := session.SessionID()
		if agent := registry.AgentFor(sid); agent != "" {
			logger.Printf("Session %s closed (agent=%s)", sid, agent)
		}
		registry.Unbind(sid)
		sessions.remove(sid)
	})

	mcpServer := server.NewMCPServer(
		"marcus",
		Version,
		server.WithToolHandlerMiddleware(tools.SessionMiddleware(coord, registry)),
		server.WithHooks(hooks),
	)

	staleTTL := time.Duration(cfg.Assignment.StaleTTLSeconds) * time.Second
	tools.Register(mcpServer, coord, registry, logger,
		tools.WithDeadline(time.Duration(cfg.ToolDispatcher.DeadlineMS)*time.Millisecond),
		tools.WithStaleTTL(staleTTL),
	)

	// Ignore SIGHUP so the server keeps running when daemonized.
	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	board.Start(ctx)
	defer board.Stop()
	go coord.Run(ctx)

	sweeper := app.NewSweeper(coord, logger,
		app.WithSweepInterval(time.Duration(cfg.Assignment.StaleCheckSeconds)*time.Second),
		app.WithStaleTTL(staleTTL),
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Push "tasks available" to idle connected agents so they do not sit on
	// their polling interval.
	notifier := app.NewNotifier(coord.Store(), registry, func(agentID, method string, params map[string]any) error {
		sid := registry.SessionFor(agentID)
		if sid == "" {
			return nil
		}
		session := sessions.get(sid)
		if session == nil || !session.Initialized() {
			return nil
		}
		notification := mcp.JSONRPCNotification{
			JSONRPC: "2.0",
			Notification: mcp.Notification{
				Method: method,
				Params: mcp.NotificationParams{AdditionalFields: params},
			},
		}
		select {
		case session.NotificationChannel() <- notification:
		default:
			logger.Printf("Notifier: push to %s dropped (channel full)", agentID)
		}
		return nil
	}, logger)
	coord.SetNotifier(notifier)
	notifier.Start()
	defer notifier.Stop()

	// Config changes that can apply live do; everything else needs a restart.
	watcher := config.NewWatcher(path, logger, func(next *config.Config) {
		ev.SetLevel(events.ParseLevel(next.Logging.Level))
		logger.Printf("Config reloaded (log level %s)", next.Logging.Level)
	})
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Printf("Config watcher stopped: %v", err)
		}
	}()

	var httpShutdown func()
	if cfg.HTTPPort >= 0 {
		httpShutdown, err = startHTTPServer(mcpServer, cfg.HTTPPort, logger, registry)
		if err != nil {
			logger.Printf("HTTP server: %v", err)
			return exitSoftware
		}
	}

	logger.Println("Stdio ready")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Printf("Stdio server failed: %v", err)
		cancel()
		if httpShutdown != nil {
			httpShutdown()
		}
		return exitSoftware
	}

	cancel()
	if httpShutdown != nil {
		httpShutdown()
	}
	logger.Println("Server stopped")
	return exitOK
}

// sessionStore holds live ClientSession objects for push notifications.
type sessionStore struct {
	mu   sync.RWMutex
	data map[string]server.ClientSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{data: make(map[string]server.ClientSession)}
}

func (ss *sessionStore) set(id string, s server.ClientSession) {
	ss.mu.Lock()
	ss.data[id] = s
	ss.mu.Unlock()
}

func (ss *sessionStore) get(id string) server.ClientSession {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.data[id]
}

func (ss *sessionStore) remove(id string) {
	ss.mu.Lock()
	delete(ss.data, id)
	ss.mu.Unlock()
}

// startHTTPServer serves the MCP server over SSE and streamable HTTP for
// remote agents. Uses net.Listen to support port 0 (auto-assign).
func startHTTPServer(mcpServer *server.MCPServer, port int, logger *log.Logger, registry *app.SessionRegistry) (func(), error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://localhost:%d", actualPort)

	sseSrv := server.NewSSEServer(mcpServer, server.WithBaseURL(baseURL))
	streamSrv := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/sse", sseSrv)
	mux.Handle("/sse/", sseSrv)
	mux.Handle("/message", sseSrv)
	mux.Handle("/mcp", streamSrv)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","port":%d,"agents":%d}`, actualPort, registry.Count())
	})

	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(ln); err != http.ErrServerClosed {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	logger.Printf("HTTP server on :%d (agents connect at %s/mcp)", actualPort, baseURL)

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}, nil
}

// buildAdvisor assembles the advisor stack: Claude behind the resilient
// wrapper when AI is enabled and a key is present, templates otherwise.
func buildAdvisor(cfg *config.Config, logger *log.Logger) advisor.Advisor {
	deadline := time.Duration(cfg.AI.TimeoutMS) * time.Millisecond
	if !cfg.AI.Enabled {
		return advisor.NewResilient(nil, deadline, logger)
	}
	claude, err := advisor.NewClaude(advisor.ClaudeConfig{
		APIKey:  os.Getenv(cfg.AI.APIKeyEnv),
		Model:   cfg.AI.Model,
		Timeout: deadline,
	})
	if err != nil {
		logger.Printf("Warning: AI advisor disabled: %v", err)
		return advisor.NewResilient(nil, deadline, logger)
	}
	logger.Printf("AI advisor enabled (model=%s)", cfg.AI.Model)
	return advisor.NewResilient(claude, deadline, logger)
}

// setupLogger writes to marcus.log under the logging directory and mirrors
// to stderr when stderr is an interactive terminal. Daemonized runs (nohup
// redirecting stderr into the same file) get one copy, not two.
func setupLogger(dir string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			path := filepath.Join(dir, "marcus.log")
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "marcus: cannot open log file %s: %v\n", path, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "marcus: cannot create log dir %s: %v\n", dir, err)
		}
	}
	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[marcus] ", log.LstdFlags)
}
