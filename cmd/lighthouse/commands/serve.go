package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/melih/lighthouse-appliance/internal/adapters/http"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long: `Serve exposes appliance status, backups and recent logs over HTTP.
Nothing served here changes the appliance.

Endpoints:
  GET /api/v1/appliance        status as JSON
  GET /api/v1/appliance/logs   recent container logs (?tail=N|all)
  GET /api/v1/backups          backup archives as JSON

Examples:
  lighthouse serve
  lighthouse serve --listen 127.0.0.1:9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: api.listen from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	addr := s.cfg.API.Listen
	if serveListen != "" {
		addr = serveListen
	}

	app := apihttp.NewApp(apihttp.NewApplianceHandler(s.coord))

	errCh := make(chan error, 1)
	go func() {
		logger.InfoCtx(s.ctx, "status API listening", "addr", addr)
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status API stopped: %w", err)
	case <-s.ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("shutting down status API")
	return app.ShutdownWithContext(shutdownCtx)
}
