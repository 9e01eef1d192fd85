// Command chatfeed is the terminal reader for the aggregated chat feed.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/chatfeed/internal/app"
	"github.com/abelbrown/chatfeed/internal/config"
	"github.com/abelbrown/chatfeed/internal/logging"
	"github.com/abelbrown/chatfeed/internal/metrics"
	"github.com/abelbrown/chatfeed/internal/otel"
	"github.com/abelbrown/chatfeed/internal/ui"
)

func main() {
	configPath := flag.String("config", "", "config file (default: search $XDG_CONFIG_HOME/chatfeed, ~/.chatfeed, .)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment")
	flag.Parse()

	loader := config.NewLoader()
	loader.SetConfigFile(*configPath)
	loader.SetEnvFile(*envFile)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logging.Init(cfg.DataDir, cfg.Log.Level); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	defer logging.Close()
	if used := loader.ConfigFileUsed(); used != "" {
		logging.Info("config loaded", "file", used)
	}

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Open(cfg)
	if err != nil {
		logging.Error("startup failed", "error", err)
		log.Fatalf("Failed to start: %v", err)
	}
	defer rt.Close()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
			logging.Error("metrics endpoint failed", "addr", cfg.Metrics.Addr, "error", err)
		}
	}()

	program := tea.NewProgram(ui.NewApp(rt.UIConfig(ctx)), tea.WithAltScreen(), tea.WithContext(ctx))

	// Polling delivers into the running program
	rt.Coord.Start(ctx, program)

	// Run UI (blocks until quit)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		log.Printf("Error running program: %v", err)
	}

	// Graceful shutdown
	cancel()
	rt.Coord.Wait()
	rt.Events.Info(otel.KindShutdown, "main", "session ended")
}
