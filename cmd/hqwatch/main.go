package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ai-hq/server/internal/applog"
	"github.com/ai-hq/server/internal/watch"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:3456/ws", "WebSocket URL of the AI HQ server")
	logFile := flag.String("log", "", "Write debug logs to this file")
	flag.Parse()

	// The terminal belongs to the UI; logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	applog.New(out, "debug", "text")
	slog.Debug("hqwatch starting", "url", *wsURL)

	m := watch.New(watch.NewClient(*wsURL))
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
