package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"compilebox/internal/cli/command"
	"compilebox/internal/cli/config"
	httpclient "compilebox/internal/cli/http"
	"compilebox/internal/cli/repl"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	history := flag.String("history", "", "Override history file path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *history != "" {
		cfg.HistoryPath = *history
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := httpclient.New(cfg.BaseURL, cfg.Timeout)
	session := repl.New(client, command.Registry(), cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdout)

	// compilebox-cli compile run file=Main.java runs one command and exits.
	if flag.NArg() > 0 {
		line := strings.Join(quoteArgs(flag.Args()), " ")
		if err := session.Exec(ctx, line); err != nil && !errors.Is(err, repl.ErrExit) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := session.Run(ctx, cfg.HistoryPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// quoteArgs re-quotes shell arguments so the line splitter sees them unchanged.
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t\n\"'\\") {
			out[i] = "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
			continue
		}
		out[i] = arg
	}
	return out
}
