// Package main provides the capacity planner entry point and CLI interface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/devskill-org/capacity-planner/config"
	"github.com/devskill-org/capacity-planner/expansion"
	"github.com/devskill-org/capacity-planner/results"
	"github.com/devskill-org/capacity-planner/server"
	"github.com/devskill-org/capacity-planner/utils"
	"github.com/devskill-org/capacity-planner/workbook"
)

// overrides collects repeated -set key=value flags.
type overrides map[string]string

func (o overrides) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o overrides) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	o[strings.TrimSpace(key)] = strings.TrimSpace(value)
	return nil
}

func main() {
	sets := overrides{}

	// Command line flags
	var (
		configFile = flag.String("config", "config.json", "Configuration file path (optional)")
		input      = flag.String("input", "", "Input workbook, overrides input_file")
		output     = flag.String("output", "", "Results directory, overrides output_dir")
		scenario   = flag.String("scenario", "", "Scenario name, overrides scenario")
		serve      = flag.Bool("serve", false, "Keep the progress server running after the run")
		help       = flag.Bool("help", false, "Show help message")
	)
	flag.Var(sets, "set", "Setting override key=value (repeatable), wins over the workbook")
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		os.Exit(1)
	}
	if *input != "" {
		cfg.InputFile = *input
	}
	if *output != "" {
		cfg.OutputDir = *output
	}
	if *scenario != "" {
		cfg.Scenario = *scenario
	}
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]string{}
	}
	for k, v := range sets {
		cfg.Overrides[k] = v
	}
	if err := cfg.Validate(); err != nil {
		fmt.Println("Invalid configuration:", err)
		os.Exit(1)
	}

	fmt.Printf("Starting capacity planner with the following configuration:\n")
	fmt.Printf("  Input: %s\n", cfg.InputPath())
	fmt.Printf("  Results: %s\n", cfg.ScenarioDir())
	if len(cfg.Overrides) > 0 {
		fmt.Printf("  Overrides: %s\n", overrides(cfg.Overrides))
	}
	if cfg.SolveTimeout > 0 {
		fmt.Printf("  Solve timeout: %s\n", cfg.SolveTimeout)
	}
	fmt.Println()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	// at "error" the run log is only kept in memory and served, not printed
	var mirror io.Writer = os.Stdout
	if cfg.LogLevel == "error" {
		mirror = nil
	}
	engine := expansion.NewEngine(mirror, expansion.NewMetrics(reg))
	logger := engine.Logger()

	web := server.NewWebServer(engine, cfg.ServerPort, cfg.StatusInterval, reg, logger)
	if err := web.Start(); err != nil {
		logger.Printf("Failed to start progress server: %v", err)
	}

	// Set up context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := run(ctx, cfg, engine, logger)
	printSummary(report, cfg.ScenarioDir())
	if err := writeReport(report, cfg.ScenarioDir()); err != nil {
		logger.Printf("Warning: failed to write run report: %v", err)
	}

	if *serve && web != nil {
		logger.Printf("Run finished, progress server still running. Press Ctrl+C to stop...")
		<-ctx.Done()
	}
	if web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := web.Stop(shutdownCtx); err != nil {
			logger.Printf("Failed to stop progress server: %v", err)
		}
	}

	if report.State == expansion.StateFailed {
		os.Exit(1)
	}
}

// loadConfig reads the config file when it exists; a missing default file
// falls back to defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Config file %s not found, using defaults\n", path)
		return config.DefaultConfig(), nil
	}
	return nil, err
}

func run(ctx context.Context, cfg *config.Config, engine *expansion.Engine, logger *log.Logger) *expansion.RunReport {
	in, err := workbook.Load(cfg.InputPath(), logger)
	if err != nil {
		logger.Printf("Failed to load inputs: %v", err)
		// the engine reports the missing inputs in its usual failure form
		return engine.Run(ctx, expansion.Request{Scenario: cfg.Scenario})
	}

	req := expansion.Request{
		Inputs:       in,
		Overrides:    cfg.Overrides,
		OutputDir:    cfg.ResolvePath(cfg.OutputDir),
		Scenario:     cfg.Scenario,
		SolveTimeout: cfg.SolveTimeout,
	}

	if cfg.PostgresConnString != "" {
		store, err := results.OpenPostgres(ctx, cfg.PostgresConnString, cfg.ResultsTablePrefix, logger)
		if err != nil {
			logger.Printf("Warning: results database unavailable, continuing without it: %v", err)
		} else {
			defer store.Close()
			req.Store = store
		}
	}

	return engine.Run(ctx, req)
}

func printSummary(report *expansion.RunReport, dir string) {
	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("RUN SUMMARY")
	fmt.Println("========================================")
	fmt.Printf("Run:      %s\n", report.RunID)
	fmt.Printf("Scenario: %s\n", report.Scenario)
	fmt.Printf("State:    %s\n", report.State)
	fmt.Printf("Message:  %s\n", report.Message)
	for _, yr := range report.Years {
		fmt.Printf("  %d  objective %16.2f  %d files\n", yr.Year, yr.Objective, len(yr.Files))
	}
	if len(report.Files) > 0 {
		fmt.Printf("Results in %s (%d files)\n", dir, len(report.Files))
	}
	fmt.Println("========================================")
}

// writeReport stores the run report next to the yearly results.
func writeReport(report *expansion.RunReport, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("run_%s.json", utils.RunStamp(report.StartedAt)))
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func showHelp() {
	fmt.Println("Capacity Planner - multi-year generation and storage expansion")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads a planning workbook and, for every fiscal year in the demand table,")
	fmt.Println("  builds a network of the surviving fleet plus candidate units, solves the")
	fmt.Println("  least-cost dispatch and investment problem, and exports the results.")
	fmt.Println("  Capacity built in one year carries into the next.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  planner [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run with config.json in the current directory")
	fmt.Println("  planner")
	fmt.Println()
	fmt.Println("  # Run a workbook into a named scenario")
	fmt.Println("  planner -input inputs/case.xlsx -scenario high_demand")
	fmt.Println()
	fmt.Println("  # Override workbook settings")
	fmt.Println("  planner -set \"Run Model On=Typical days\" -set Resolution=3")
	fmt.Println()
	fmt.Println("  # Keep the progress server up after the run")
	fmt.Println("  planner -serve")
	fmt.Println()
	fmt.Println("  # Show this help")
	fmt.Println("  planner -help")
}
