// aichat - A terminal chat client for OpenAI-compatible aggregators.
//
// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/GoldenGlimmer/aichat/internal/analytics"
	"github.com/GoldenGlimmer/aichat/internal/chat"
	"github.com/GoldenGlimmer/aichat/internal/client"
	"github.com/GoldenGlimmer/aichat/internal/config"
	"github.com/GoldenGlimmer/aichat/internal/expense"
	"github.com/GoldenGlimmer/aichat/internal/history"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (default: ~/.aichat/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("aichat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	log.SetFlags(log.LstdFlags)
	log.SetOutput(os.Stderr)

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "aichat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	settings, err := config.NewStore(cfg, path)
	if err != nil {
		return err
	}

	api := client.New(cfg.BaseURL, cfg.APIKey).
		WithTimeout(time.Duration(cfg.RequestTimeoutSecs) * time.Second).
		WithMaxRetries(cfg.MaxRetries)

	dbPath := cfg.HistoryDBPath
	if dbPath == "" {
		if dbPath, err = config.DefaultHistoryPath(); err != nil {
			return err
		}
	}
	store, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	expenses := expense.New(store)
	tracker := analytics.NewTracker()
	orch := chat.New(api, store, settings, expenses, tracker)

	ctx := context.Background()
	orch.Initialize(ctx)
	if err := expenses.Refresh(ctx); err != nil {
		log.Printf("expense refresh failed: %v", err)
	}

	// Reload and reinitialize when the config file changes on disk, so a
	// freshly added API key takes effect without a restart.
	watcher, err := config.NewWatcher(path, 500*time.Millisecond, func() {
		newCfg, err := settings.Reload()
		if err != nil {
			log.Printf("config reload failed: %v", err)
			return
		}
		api.UpdateCredentials(newCfg.BaseURL, newCfg.APIKey)
		log.Printf("config changed, reinitializing")
		orch.Reinitialize(context.Background())
	})
	if err != nil {
		log.Printf("config watcher unavailable: %v", err)
	} else {
		if err := watcher.Watch(); err != nil {
			log.Printf("config watcher failed to start: %v", err)
		}
		defer watcher.Close()
	}

	return repl(ctx, orch, expenses, store)
}

// loadConfig loads from the explicit path when given, otherwise from the
// default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.LoadFromPath(explicit)
		if err != nil {
			return nil, "", err
		}
		return cfg, explicit, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	path, err := config.PathTOML()
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// =============================================================================
// REPL
// =============================================================================

const replHelp = `commands:
  /models          list available models
  /model <id>      switch model
  /balance         show account balance
  /expenses        show cost breakdown
  /stats           show stored history statistics
  /clear           clear chat history
  /export <path>   write a JSON snapshot (.txt for plain text)
  /help            show this help
  /quit            exit`

func repl(ctx context.Context, orch *chat.Orchestrator, expenses *expense.Aggregator, store *history.Store) error {
	fmt.Printf("aichat %s (type /help for commands)\n", Version)
	if model := orch.CurrentModel(); model != "" {
		fmt.Printf("model: %s  balance: %s\n", model, orch.Balance())
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, line, orch, expenses, store); quit {
				return nil
			}
			continue
		}

		sendAndPrint(ctx, orch, line)
	}
}

func sendAndPrint(ctx context.Context, orch *chat.Orchestrator, content string) {
	before := len(orch.Messages())
	if err := orch.SendMessage(ctx, content); err != nil {
		fmt.Printf("! %v\n", err)
		return
	}

	messages := orch.Messages()
	// Skip the echoed user message; print what the turn produced.
	for i := before + 1; i < len(messages); i++ {
		msg := messages[i]
		if msg.Tokens != nil && msg.Cost != nil {
			fmt.Printf("%s\n  (%d tokens, $%.4f)\n", msg.Content, *msg.Tokens, *msg.Cost)
		} else {
			fmt.Printf("%s\n", msg.Content)
		}
	}
	if state := orch.LastError(); state != chat.ErrorNone {
		fmt.Printf("! %s\n", state)
	}
}

// command dispatches one slash command; returns true to exit.
func command(ctx context.Context, line string, orch *chat.Orchestrator, expenses *expense.Aggregator, store *history.Store) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(replHelp)

	case "/models":
		for _, m := range orch.Models() {
			marker := "  "
			if m.ID == orch.CurrentModel() {
				marker = "* "
			}
			fmt.Printf("%s%s (%s)\n", marker, m.DisplayName(), m.ID)
		}

	case "/model":
		if arg == "" {
			fmt.Printf("model: %s\n", orch.CurrentModel())
			break
		}
		orch.SetCurrentModel(arg)
		fmt.Printf("model: %s\n", arg)

	case "/balance":
		fmt.Printf("balance: %s\n", orch.Balance())

	case "/expenses":
		if err := expenses.Refresh(ctx); err != nil {
			fmt.Printf("! %v\n", err)
			break
		}
		b := expenses.Breakdown()
		fmt.Printf("last %d days: $%.4f over %d turns\n", b.WindowDays, b.TotalCost, b.TotalTurns)
		for _, d := range b.Daily {
			fmt.Printf("  %s  $%.4f (%d turns)\n", d.Date.Format("2006-01-02"), d.Cost, d.Turns)
		}

	case "/stats":
		stats, err := store.Statistics(ctx)
		if err != nil {
			fmt.Printf("! %v\n", err)
			break
		}
		fmt.Printf("%d messages (%d user, %d assistant), %d tokens, $%.4f total\n",
			stats.TotalMessages, stats.UserMessages, stats.AssistantMessages,
			stats.TotalTokens, stats.TotalCost)

	case "/clear":
		if err := orch.ClearHistory(ctx); err != nil {
			fmt.Printf("! %v\n", err)
			break
		}
		fmt.Println("history cleared")

	case "/export":
		if arg == "" {
			fmt.Println("usage: /export <path>")
			break
		}
		var err error
		if strings.HasSuffix(arg, ".txt") {
			err = orch.WriteTextFile(arg)
		} else {
			err = orch.WriteJSONFile(arg)
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
			break
		}
		fmt.Printf("exported to %s\n", arg)

	default:
		fmt.Printf("unknown command %s (try /help)\n", cmd)
	}
	return false
}
