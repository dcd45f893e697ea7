package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ExecFunc runs one parsed command line.
type ExecFunc func(ctx context.Context, args []string) error

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	prompt    string
	exec      ExecFunc
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithPrompt sets the prompt.
func WithPrompt(p string) Option {
	return func(r *REPL) { r.prompt = p }
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// WithCompleter sets the command list used by "help" and completion.
func WithCompleter(c *Completer) Option {
	return func(r *REPL) { r.completer = c }
}

// New creates a REPL that hands every line other than the built-ins to exec.
func New(in io.Reader, out io.Writer, exec ExecFunc, opts ...Option) *REPL {
	r := &REPL{
		input:     in,
		output:    out,
		prompt:    "meshkv> ",
		exec:      exec,
		completer: NewCompleter(nil),
		history:   NewHistory("", DefaultHistorySize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads lines until EOF, "exit" or "quit", or ctx is done. Command
// errors are printed and do not end the loop.
func (r *REPL) Run(ctx context.Context) error {
	reader := bufio.NewReader(r.input)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)

		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) && line == "" {
			fmt.Fprintln(r.output)
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.history.Add(line)

		if done := r.dispatch(ctx, line); done {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (r *REPL) dispatch(ctx context.Context, line string) bool {
	switch line {
	case "exit", "quit":
		return true
	case "help":
		for _, cmd := range r.completer.Complete("") {
			fmt.Fprintf(r.output, "  %s\n", cmd)
		}
		return false
	case "history":
		for i, e := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, e)
		}
		return false
	}

	if prefix, ok := strings.CutSuffix(line, "?"); ok {
		for _, cmd := range r.completer.Complete(strings.TrimSpace(prefix)) {
			fmt.Fprintf(r.output, "  %s\n", cmd)
		}
		return false
	}

	args, err := Split(line)
	if err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
		return false
	}
	if err := r.exec(ctx, args); err != nil {
		fmt.Fprintf(r.output, "Error: %v\n", err)
	}
	return false
}

// Split breaks a line into words. Single and double quotes group words and
// a backslash escapes the next character outside single quotes.
func Split(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, ch := range line {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteRune(ch)
			}
		case ch == '"' || ch == '\'':
			quote = ch
			inWord = true
		case ch == ' ' || ch == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(ch)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
