package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"compilebox/internal/cli/command"
	httpclient "compilebox/internal/cli/http"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// ErrExit is returned by Exec for exit and quit.
var ErrExit = errors.New("exit")

const prompt = "compilebox> "

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	prettyJSON bool
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, prettyJSON bool, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		prettyJSON: prettyJSON,
		out:        out,
	}
}

// Run reads lines until exit, EOF or interrupt on an empty line.
func (s *Session) Run(ctx context.Context, historyPath string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init line editor failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if strings.TrimSpace(line) == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, ErrExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("error: %v", err)
		}
	}
}

// Exec runs one line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if handled, err := s.handleSystemCommand(line); handled {
		return err
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) (bool, error) {
	switch line {
	case "exit", "quit":
		return true, ErrExit
	case "help":
		s.printHelp()
		return true, nil
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true, nil
	}
	if line == "show config" {
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("prettyJSON: %v", s.prettyJSON)
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.printLine("usage: set base <url> | set timeout <duration> | set pretty true|false")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "pretty":
		v, err := command.ParseBool(parts[1])
		if err != nil {
			s.printLine("invalid bool: %v", err)
			return
		}
		s.prettyJSON = v
		s.printLine("pretty set to %v", v)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseArgs(cmd, tokens[2:])
	if err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(cmd, resp)
	return nil
}

type jobSummary struct {
	Success       *bool  `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	ExitCode      int    `json:"exitCode"`
	ExecutionTime int64  `json:"executionTime"`
	MemoryUsed    int64  `json:"memoryUsed"`
	TimedOut      bool   `json:"timedOut"`
}

func (s *Session) renderResponse(cmd command.Command, resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if cmd.Service == "compile" && (cmd.Action == "run" || cmd.Action == "code") {
		var job jobSummary
		if err := json.Unmarshal(resp.Body, &job); err == nil && job.Success != nil {
			s.printJob(job)
			if !s.prettyJSON {
				return
			}
		}
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) printJob(job jobSummary) {
	status := "ok"
	switch {
	case job.TimedOut:
		status = "timed out"
	case !*job.Success:
		status = "failed"
	}
	s.printLine("status: %s, exit %d, %dms, %d bytes", status, job.ExitCode, job.ExecutionTime, job.MemoryUsed)
	if job.Output != "" {
		s.printLine("--- output ---\n%s", job.Output)
	}
	if job.Error != "" {
		s.printLine("--- error ---\n%s", job.Error)
	}
}

func (s *Session) completer() *readline.PrefixCompleter {
	actions := make([]readline.PrefixCompleterInterface, 0, len(s.commands))
	for _, cmd := range s.commands {
		actions = append(actions, readline.PcItem(cmd.Action))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("compile", actions...),
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("timeout"),
			readline.PcItem("pretty"),
		),
		readline.PcItem("show", readline.PcItem("config")),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|pretty | show config")
	s.printLine("commands:")
	for _, usage := range command.Usages(s.commands) {
		s.printLine("  %s", usage)
	}
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
