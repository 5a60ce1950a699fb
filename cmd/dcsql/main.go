package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/dcsql/internal/auth"
	"github.com/btouchard/dcsql/internal/config"
	dcsqlmcp "github.com/btouchard/dcsql/internal/mcp"
	authmw "github.com/btouchard/dcsql/internal/mcp/middleware"
	"github.com/btouchard/dcsql/internal/notify"
	"github.com/btouchard/dcsql/internal/query"
	"github.com/btouchard/dcsql/internal/shell"
	"github.com/btouchard/dcsql/internal/store"
)

var version = "dev"

const (
	cleanupInterval  = time.Hour
	shellHistoryFile = "~/.config/dcsql/shell_history"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "query":
		cmdQuery(os.Args[2:])
	case "shell":
		cmdShell(os.Args[2:])
	case "login":
		cmdLogin(os.Args[2:])
	case "version":
		fmt.Printf("dcsql %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: dcsql <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the MCP server (stdio or http)\n")
	fmt.Fprintf(os.Stderr, "  query     Run a SQL query and print the result as JSON\n")
	fmt.Fprintf(os.Stderr, "  shell     Interactive SQL prompt\n")
	fmt.Fprintf(os.Stderr, "  login     Run the browser authorization flow\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	transport := fs.String("transport", "", "override server.transport (stdio or http)")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)
	if *transport != "" {
		cfg.Server.Transport = *transport
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}
	setupLogging(cfg)

	slog.Info("starting dcsql",
		"version", version,
		"transport", cfg.Server.Transport,
		"dataspace", cfg.Query.Dataspace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dataspace := fs.String("dataspace", "", "dataspace to query (default from config)")
	workload := fs.String("workload", "", "workload name reported to the service")
	file := fs.String("file", "", "read SQL from file ('-' for stdin)")
	_ = fs.Parse(args) // ExitOnError handles errors

	sql, err := readSQL(*file, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client, _, err := newClient(cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	var runner store.Runner = client
	if db := openHistory(cfg); db != nil {
		defer func() { _ = db.Close() }()
		runner = store.NewRecorder(client, db, "cli", client.Dataspace())
	}

	res, err := runner.Run(ctx, sql, query.Options{Dataspace: *dataspace, WorkloadName: *workload})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", describeError(err))
		os.Exit(1)
	}

	if err := writeResult(os.Stdout, res); err != nil {
		fmt.Fprintf(os.Stderr, "writing result: %v\n", err)
		os.Exit(1)
	}
}

func cmdShell(args []string) {
	fs := flag.NewFlagSet("shell", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	dataspace := fs.String("dataspace", "", "dataspace to query (default from config)")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg)

	// SIGINT cancels only the running statement; the shell handles it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	client, _, err := newClient(cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	var runner store.Runner = client
	if db := openHistory(cfg); db != nil {
		defer func() { _ = db.Close() }()
		runner = store.NewRecorder(client, db, "shell", client.Dataspace())
	}

	sh := shell.New(runner, client, cmp.Or(*dataspace, client.Dataspace()), os.Stdout)
	if err := sh.Run(ctx, config.ExpandHome(shellHistoryFile)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	_, session, err := newClient(cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	session.Invalidate()
	if _, _, err := session.Token(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", describeError(err))
		os.Exit(1)
	}

	cred, _ := session.Current()
	fmt.Printf("authorized as %s against %s (valid until %s)\n",
		cred.Identity, cred.InstanceURL, cred.ExpiresAt.Format(time.RFC3339))
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if _, err := auth.NewFlow(authConfig(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func mustLoadConfig(path string) *config.Config {
	cfg, err := loadConfig(path)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging writes JSON logs to stderr, since stdout carries the MCP
// stdio transport and query output.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stderr only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func authConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		LoginURL:     cfg.Auth.LoginURL,
		RedirectURI:  cfg.Auth.RedirectURI,
		Scopes:       cfg.Auth.Scopes,
		Timeout:      cfg.Auth.AuthorizationTimeout,
	}
}

func newClient(cfg *config.Config, extra ...query.Option) (*query.Client, *auth.Session, error) {
	flow, err := auth.NewFlow(authConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	session := auth.NewSession(flow, auth.WithLifetime(cfg.Auth.TokenLifetime))

	opts := []query.Option{
		query.WithAPIVersion(cfg.Query.APIVersion),
		query.WithDefaults(query.Options{
			Dataspace:    cfg.Query.Dataspace,
			WorkloadName: cfg.Query.WorkloadName,
			PageSize:     cfg.Query.PageSize,
		}),
		query.WithWaitTime(cfg.Query.WaitTime),
		query.WithMaxWait(cfg.Query.MaxWait),
		query.WithTimeouts(cfg.Query.SubmitTimeout, cfg.Query.PollTimeout, cfg.Query.RowsTimeout),
		query.WithListTableFilter(cfg.Query.DefaultListTableFilter),
	}
	client := query.NewClient(session, append(opts, extra...)...)
	return client, session, nil
}

// openHistory opens the query history database. History is optional: an
// empty path or an open failure disables it.
func openHistory(cfg *config.Config) *store.SQLiteStore {
	if cfg.Database.Path == "" {
		return nil
	}
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		slog.Warn("query history disabled", "path", cfg.Database.Path, "error", err)
		return nil
	}
	slog.Debug("database opened", "path", cfg.Database.Path)
	return db
}

func serve(ctx context.Context, cfg *config.Config) error {
	progress := notify.NewQueryObserver(notify.NewMCPNotifier(0))
	client, _, err := newClient(cfg, query.WithObserver(progress))
	if err != nil {
		return err
	}

	deps := &dcsqlmcp.Deps{
		Runner:    client,
		Catalog:   client,
		Suggester: client,
		Dataspace: client.Dataspace(),
		Version:   version,
	}

	if db := openHistory(cfg); db != nil {
		defer func() { _ = db.Close() }()
		deps.Runner = store.NewRecorder(client, db, "mcp", client.Dataspace())
		deps.History = db
		if cfg.Database.RetentionDays > 0 {
			retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
			go store.StartCleanupLoop(ctx, db, retention, cleanupInterval)
		}
	}

	mcpServer := dcsqlmcp.NewServer(deps)

	if cfg.Server.Transport == config.TransportHTTP {
		return serveHTTP(ctx, cfg, mcpServer)
	}

	slog.Info("dcsql is ready", "transport", config.TransportStdio)
	stdio := server.NewStdioServer(mcpServer)
	err = stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, mcpServer *server.MCPServer) error {
	mcpHTTP := server.NewStreamableHTTPServer(mcpServer)

	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(authmw.StaticToken(cfg.Server.APIToken))
		r.Handle("/mcp", mcpHTTP)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 35 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dcsql is ready", "transport", config.TransportHTTP, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func readSQL(file string, args []string) (string, error) {
	var sql string
	switch {
	case file == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		sql = string(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", file, err)
		}
		sql = string(b)
	default:
		sql = strings.Join(args, " ")
	}

	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "", errors.New("usage: dcsql query [flags] <sql> (or -file path)")
	}
	return sql, nil
}

type queryOutput struct {
	Data     any             `json:"data"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func writeResult(w io.Writer, res *query.Result) error {
	out := queryOutput{Data: res.Data, Metadata: res.RawMetadata}
	if res.Empty() {
		out.Data = "(empty)"
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// describeError renders the typed failures with their structured fields.
func describeError(err error) string {
	if qe, ok := errors.AsType[*query.Error](err); ok {
		return fmt.Sprintf("query failed at %s: HTTP %d %s\n%s", qe.Stage, qe.Status, qe.Reason, qe.Message)
	}
	if ae, ok := errors.AsType[*auth.Error](err); ok && errors.Is(err, auth.ErrMissingCredentials) {
		return fmt.Sprintf("%v\nset auth.client_id and auth.client_secret (or SF_CLIENT_ID and SF_CLIENT_SECRET)", ae)
	}
	return err.Error()
}
