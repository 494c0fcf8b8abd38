// Command scanengine is a minimal reference caller for pkg/engine: it
// starts a single scan against a seed URL, streams Progress Bus events
// to stdout, and prints the final record. A real deployment's
// HTTP/WebSocket front-end is expected to call pkg/engine directly
// instead of shelling out to this binary; this exists so the engine can
// be exercised end to end without one.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vulnscan/scanengine/pkg/engine"
	"github.com/vulnscan/scanengine/pkg/envconfig"
	"github.com/vulnscan/scanengine/pkg/jsonutil"
	"github.com/vulnscan/scanengine/pkg/progressbus"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: scanengine scan -u <seed-url> [-config <override.yaml>]")
}

func runScan(args []string) {
	scanFlags := flag.NewFlagSet("scan", flag.ExitOnError)
	seedURL := scanFlags.String("u", "", "Seed URL to scan")
	overridePath := scanFlags.String("config", "", "Optional YAML config override file")
	jsonOutput := scanFlags.Bool("json", false, "Print the final scan record as JSON instead of a log line")
	metricsAddr := scanFlags.String("metrics-addr", "", "If set, serve Prometheus metrics at this address until the scan finishes")
	if err := scanFlags.Parse(args); err != nil {
		os.Exit(1)
	}
	if *seedURL == "" {
		printUsage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := envconfig.Load(*overridePath)
	if err != nil {
		logger.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	normalized, err := engine.NormalizeSeedURL(*seedURL)
	if err != nil {
		logger.Error("invalid seed url", slog.String("url", *seedURL), slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn("interrupt received, cancelling scan")
		cancel()
	}()

	bus := progressbus.New()
	eng := engine.New(cfg, bus, engine.WithLogger(logger))
	defer eng.Shutdown(context.Background())

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", eng.Handler())
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer srv.Close()
	}

	scanID, err := eng.StartScan(ctx, normalized)
	if err != nil {
		logger.Error("start scan failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("scan started", slog.String("scan_id", string(scanID)), slog.String("url", normalized))

	sub := eng.Subscribe(scanID)
	defer sub.Unsubscribe()

	for ev := range sub.C {
		logger.Info("progress",
			slog.String("scan_id", scanID),
			slog.String("status", ev.Status),
			slog.Int("progress", ev.Progress),
			slog.Int("pages_scanned", ev.PagesScanned),
			slog.Int("total_pages", ev.TotalPages),
			slog.Int("vulnerabilities_found", ev.VulnerabilitiesFound))
		if ev.Status == "completed" || ev.Status == "failed" {
			break
		}
	}

	scan, err := eng.Scan(ctx, scanID)
	if err != nil {
		logger.Error("fetch final scan failed", slog.Any("error", err))
		os.Exit(1)
	}

	if *jsonOutput {
		out, err := jsonutil.MarshalIndent(scan, "", "  ")
		if err != nil {
			logger.Error("marshal final scan failed", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	logger.Info("scan finished",
		slog.String("scan_id", string(scanID)),
		slog.String("status", scan.Status),
		slog.Int("pages_scanned", scan.PagesScanned),
		slog.Int("vulnerabilities", len(scan.Vulnerabilities)))
}
