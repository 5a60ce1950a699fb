package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/btouchard/dcsql/internal/query"
)

var (
	// errExit signals the REPL to stop.
	errExit = errors.New("exit")

	errCanceled = errors.New("canceled")
)

// Runner executes a SQL query to completion.
type Runner interface {
	Run(ctx context.Context, sql string, opts query.Options) (*query.Result, error)
}

// Catalog lists tables and their columns within a dataspace.
type Catalog interface {
	ListTables(ctx context.Context, dataspace, filter string) ([]string, error)
	DescribeTable(ctx context.Context, dataspace, table string) ([]string, error)
}

// Shell is an interactive SQL prompt. Statements end with ';' and may span
// several lines. Lines starting with '\' are meta commands.
type Shell struct {
	runner    Runner
	catalog   Catalog
	dataspace string
	out       io.Writer

	pending strings.Builder
}

// New returns a Shell that prints results to out.
func New(runner Runner, catalog Catalog, dataspace string, out io.Writer) *Shell {
	return &Shell{
		runner:    runner,
		catalog:   catalog,
		dataspace: dataspace,
		out:       out,
	}
}

// Run reads statements until EOF, "\q" or ctx is done.
func (s *Shell) Run(ctx context.Context, historyFile string) error {
	if historyFile == "" {
		historyFile = filepath.Join(os.TempDir(), ".dcsql_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     historyFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       `\q`,

		HistorySearchFold:      true,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline instance: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintf(s.out, "dcsql shell on dataspace %s. Type \\? for help.\n", s.dataspace)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			s.pending.Reset()
			rl.SetPrompt(s.prompt())
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}

		stmt, ok := s.feed(line)
		rl.SetPrompt(s.prompt())
		if !ok {
			continue
		}
		_ = rl.SaveHistory(stmt)

		if err := s.runStatement(ctx, stmt); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(s.out, "ERROR: %v\n", err)
		}
	}
}

// runStatement executes stmt with SIGINT bound to cancelling it, so Ctrl+C
// stops a running query and returns to the prompt.
func (s *Shell) runStatement(ctx context.Context, stmt string) error {
	stmtCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := s.Execute(stmtCtx, stmt)
	if err != nil && stmtCtx.Err() != nil && ctx.Err() == nil {
		return errCanceled
	}
	return err
}

func (s *Shell) prompt() string {
	if s.pending.Len() > 0 {
		return strings.Repeat(" ", len(s.dataspace)) + "-> "
	}
	return s.dataspace + "=> "
}

// feed appends line to the pending statement. It returns the statement once
// it is complete: a meta command on an empty buffer, or text ending in ';'.
func (s *Shell) feed(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if s.pending.Len() == 0 {
		if trimmed == "" {
			return "", false
		}
		if strings.HasPrefix(trimmed, `\`) || isExitWord(trimmed) {
			return trimmed, true
		}
	}

	if s.pending.Len() > 0 {
		s.pending.WriteByte('\n')
	}
	s.pending.WriteString(line)

	if !strings.HasSuffix(trimmed, ";") {
		return "", false
	}

	stmt := strings.TrimSpace(s.pending.String())
	s.pending.Reset()
	stmt = strings.TrimSpace(strings.TrimRight(stmt, ";"))
	if stmt == "" {
		return "", false
	}
	return stmt, true
}

func isExitWord(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit":
		return true
	}
	return false
}

// Execute runs one complete statement or meta command.
func (s *Shell) Execute(ctx context.Context, input string) error {
	if isExitWord(input) {
		return errExit
	}
	if !strings.HasPrefix(input, `\`) {
		return s.runSQL(ctx, input)
	}

	parts := strings.Fields(input)
	switch parts[0] {
	case `\q`:
		return errExit
	case `\?`, `\h`:
		s.showHelp()
		return nil
	case `\dt`:
		filter := ""
		if len(parts) > 1 {
			filter = parts[1]
		}
		return s.listTables(ctx, filter)
	case `\d`:
		if len(parts) < 2 {
			return errors.New(`usage: \d <table>`)
		}
		return s.describe(ctx, parts[1])
	case `\c`:
		if len(parts) < 2 {
			fmt.Fprintf(s.out, "dataspace: %s\n", s.dataspace)
			return nil
		}
		s.dataspace = parts[1]
		fmt.Fprintf(s.out, "now querying dataspace %s\n", s.dataspace)
		return nil
	default:
		return fmt.Errorf(`unknown command: %s. Type \? for help`, parts[0])
	}
}

func (s *Shell) runSQL(ctx context.Context, sql string) error {
	res, err := s.runner.Run(ctx, sql, query.Options{Dataspace: s.dataspace})
	if err != nil {
		return err
	}
	return renderResult(s.out, res)
}

func (s *Shell) listTables(ctx context.Context, filter string) error {
	tables, err := s.catalog.ListTables(ctx, s.dataspace, filter)
	if err != nil {
		return err
	}
	return renderList(s.out, "table", tables)
}

func (s *Shell) describe(ctx context.Context, table string) error {
	columns, err := s.catalog.DescribeTable(ctx, s.dataspace, table)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %s not found", table)
	}
	return renderList(s.out, "column", columns)
}

func (s *Shell) showHelp() {
	fmt.Fprintln(s.out, "Statements end with ';' and may span lines.")
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, `  \dt [pattern]     - List tables (LIKE pattern)`)
	fmt.Fprintln(s.out, `  \d <table>        - List the columns of a table`)
	fmt.Fprintln(s.out, `  \c [dataspace]    - Show or switch dataspace`)
	fmt.Fprintln(s.out, `  \?                - Show this help message`)
	fmt.Fprintln(s.out, `  \q, exit, quit    - Exit the shell`)
	fmt.Fprintln(s.out, "")
	fmt.Fprintln(s.out, "Keyboard shortcuts:")
	fmt.Fprintln(s.out, "  TAB                - Auto-complete meta commands")
	fmt.Fprintln(s.out, "  Ctrl+R             - Search history")
	fmt.Fprintln(s.out, "  Ctrl+C             - Cancel the running query or discard the current statement")
	fmt.Fprintln(s.out, "  Ctrl+D             - Exit")
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(`\dt`),
		readline.PcItem(`\d`),
		readline.PcItem(`\c`),
		readline.PcItem(`\?`),
		readline.PcItem(`\q`),
		readline.PcItem("SELECT"),
	)
}
