// Command agent is the CLI boundary for the agent core: it loads
// configuration, wires the AI Adapter and Tool Adapter, constructs the
// Agent Service, and serves its HTTP/WebSocket surface until an
// interrupt or termination signal arrives. Grounded on the teacher's
// cmd/cliaimonitor/main.go (flag parsing, signal.Notify graceful
// shutdown, PID-free since the agent core has no Captain terminal to
// supervise). spec.md §10 treats the command-line surface itself and
// the AI provider's concrete HTTP protocol as external collaborators;
// this entrypoint only wires the narrow interfaces spec.md §2 and §6
// name.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CLIAIMONITOR/internal/agentsvc"
	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/config"
	"github.com/CLIAIMONITOR/internal/httpapi"
	"github.com/CLIAIMONITOR/internal/toolsrv"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults applied when omitted)")
	addr := flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	aiAdapter := ai.NewStub(ai.Config{
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	})
	toolAdapter := toolsrv.NewRegistry()
	for name, ts := range cfg.Tools {
		toolAdapter.RegisterServer(name, ts.Priority, ts.Enabled)
	}

	svc, err := agentsvc.New(cfg, aiAdapter, toolAdapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent service: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}

	httpSrv := httpapi.NewServer(svc)
	listener, err := httpapi.Listen(cfg.HTTP.Addr, httpSrv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "http listen: %v\n", err)
		svc.Stop()
		os.Exit(1)
	}
	fmt.Printf("agent ready at http://localhost%s (mode=%s)\n", cfg.HTTP.Addr, cfg.Agent.Mode)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	fmt.Println("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace()+5*time.Second)
	defer shutdownCancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "http shutdown: %v\n", err)
	}
	if err := svc.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "agent stop: %v\n", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
