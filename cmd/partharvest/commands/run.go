package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/partharvest/api"
	"github.com/use-agent/partharvest/config"
	"github.com/use-agent/partharvest/extract"
	"github.com/use-agent/partharvest/harvest"
	"github.com/use-agent/partharvest/input"
	"github.com/use-agent/partharvest/media"
	"github.com/use-agent/partharvest/persist"
	"github.com/use-agent/partharvest/scraper"
	"github.com/use-agent/partharvest/webhook"
)

type runOptions struct {
	outputDir  string
	proxies    string
	proxyFile  string
	statusAddr string
	delimiter  string
}

var runFlags runOptions

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.outputDir, "output-dir", "o", "", "Directory for products.csv, products.json, images/ and pdfs/.")
	f.StringVar(&runFlags.proxies, "proxies", "", "Comma-separated proxy URLs to rotate through.")
	f.StringVar(&runFlags.proxyFile, "proxy-file", "", "File with one proxy URL per line.")
	f.StringVar(&runFlags.statusAddr, "status-addr", "", "Serve run progress over HTTP on this address, e.g. :8080.")
	f.StringVar(&runFlags.delimiter, "delimiter", ",", `Input field delimiter; "tab" or \t for tabs.`)
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <input.csv>",
	Short: "Scrapes every part number listed in the input file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := applyRunFlags(cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		delimiter, err := input.ParseDelimiter(runFlags.delimiter)
		if err != nil {
			return err
		}
		identifiers, err := input.LoadFile(args[0], delimiter)
		if err != nil {
			return err
		}
		slog.Info("partharvest starting",
			"input", args[0],
			"identifiers", len(identifiers),
			"output", cfg.Output.Dir,
			"proxies", len(cfg.Browser.Proxies),
		)

		return harvestAll(cmd.Context(), cfg, identifiers)
	},
}

func applyRunFlags(cfg *config.Config) error {
	if runFlags.outputDir != "" {
		cfg.Output.Dir = runFlags.outputDir
	}
	if runFlags.statusAddr != "" {
		cfg.Status.Addr = runFlags.statusAddr
	}
	if runFlags.proxies != "" {
		cfg.Browser.Proxies = nil
		for _, p := range strings.Split(runFlags.proxies, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Browser.Proxies = append(cfg.Browser.Proxies, p)
			}
		}
	}
	if runFlags.proxyFile != "" {
		proxies, err := config.LoadProxyFile(runFlags.proxyFile)
		if err != nil {
			return err
		}
		cfg.Browser.Proxies = append(cfg.Browser.Proxies, proxies...)
	}
	return nil
}

// harvestAll wires the components, runs the loop and reports. Identifier
// failures never make it return an error.
func harvestAll(parent context.Context, cfg *config.Config, identifiers []string) error {
	startTime := time.Now()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := scraper.NewManager(cfg.Browser, cfg.Harvest)
	defer sessions.Close()

	sink := persist.NewSink(cfg.Output)
	progress := harvest.NewProgress(sink.CSVPath(), sink.JSONPath())

	if cfg.Status.Addr != "" {
		srv := &http.Server{
			Addr:    cfg.Status.Addr,
			Handler: api.NewRouter(progress, cfg.Status, startTime),
		}
		go func() {
			slog.Info("status API listening", "addr", cfg.Status.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status API error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("status API forced shutdown", "error", err)
			}
		}()
	}

	orch := harvest.New(harvest.Deps{
		Sessions:  sessions,
		Resolver:  scraper.NewResolver(cfg.Site, cfg.Harvest),
		Extractor: extract.NewExtractor(cfg.Site, cfg.Harvest, cfg.Output, media.NewDownloader(cfg.Download, cfg.Browser.UserAgents)),
		Sink:      sink,
		Progress:  progress,
	}, cfg.Harvest)

	state := orch.Run(ctx, identifiers)
	// A second interrupt during cleanup kills the process.
	stop()

	// Both artifacts exist after every run, even one that saved nothing.
	if state.Committed == 0 {
		if err := sink.Commit(state.Results); err != nil {
			slog.Error("writing empty artifacts failed", "error", err)
		}
	}

	summary := progress.Snapshot()
	if state.Halted {
		slog.Warn("run halted early", "reason", state.HaltReason, "processed", state.Processed(), "requested", len(identifiers))
	}
	slog.Info("partharvest finished", "committed", summary.Committed, "requested", summary.Requested, "elapsed", time.Since(startTime).Round(time.Second))

	renderSummary(os.Stdout, summary, state.Outcomes)

	if n := webhook.New(cfg.Webhook); n != nil {
		// The run context may already be canceled; the notification still goes out.
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		if err := n.Notify(notifyCtx, webhook.NewCompletedEvent(summary)); err != nil {
			slog.Error("completion webhook not delivered", "error", err)
		}
	}
	return nil
}
