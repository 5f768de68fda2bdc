package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/scraper"
	"github.com/teranos/gdscraper/server"
)

// RunCmd starts the scraper service
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scraper service",
	Long: `Start the scraper service: the intake consuming the input topic, the
worker pool running scrape jobs and, when enabled, the status server.

Edits to the project am.toml apply the log level, jobs per minute and job
timeout without a restart. SIGINT or SIGTERM stops the service; jobs still
running publish JOB_TIMEOUT.

Examples:
  gdscraper run                 # Use configuration from am.toml and GDSCRAPER_* vars
  gdscraper run --no-server     # Without the HTTP status server
  gdscraper run --workers 4     # Override pulse.workers`,
	RunE: runService,
}

var (
	runNoServer bool
	runWorkers  int
	runPort     int
)

func init() {
	RunCmd.Flags().BoolVar(&runNoServer, "no-server", false, "Do not start the HTTP status server")
	RunCmd.Flags().IntVar(&runWorkers, "workers", -1, "Number of workers (overrides pulse.workers)")
	RunCmd.Flags().IntVar(&runPort, "port", 0, "Status server port (overrides server.port)")
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if runWorkers >= 0 {
		cfg.Pulse.Workers = runWorkers
	}
	if runPort > 0 {
		cfg.Server.Port = runPort
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.Logger
	svc, err := scraper.New(ctx, cfg, database, log)
	if err != nil {
		return errors.Wrap(err, "failed to create scraper service")
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	var srv *server.Server
	if cfg.Server.Enabled && !runNoServer {
		port := cfg.Server.Port
		if port == 0 {
			port = am.DefaultServerPort
		}
		srv = server.New(svc.Bus(), svc.Pool(), svc.Topics(), log)
		if err := srv.Start(fmt.Sprintf(":%d", port)); err != nil {
			svc.Stop()
			return errors.Wrap(err, "failed to start status server")
		}
		pterm.Info.Printfln("Status server on http://localhost:%d/healthz", port)
	}

	if path := am.ProjectConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			log.Warnw("Config hot reload disabled", logger.FieldError, err)
		} else {
			watcher.OnReload(svc.ApplyConfig)
			watcher.Start()
			am.SetGlobalWatcher(watcher)
			defer watcher.Stop()
		}
	}

	pterm.Success.Printfln("gdscraper consuming %s (group %s, %d workers)",
		cfg.Bus.InputTopic, cfg.Scraper.AppID, svc.Pool().Workers())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	pterm.Info.Printfln("Received %s, shutting down", sig)

	if srv != nil {
		if err := srv.Stop(); err != nil {
			log.Warnw("Status server shutdown incomplete", logger.FieldError, err)
		}
	}
	svc.Stop()
	pterm.Success.Println("gdscraper stopped")
	return nil
}
