package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/melih/lighthouse-appliance/internal/adapters/builder"
	"github.com/melih/lighthouse-appliance/internal/adapters/docker"
	"github.com/melih/lighthouse-appliance/internal/cli/output"
	"github.com/melih/lighthouse-appliance/internal/config"
	"github.com/melih/lighthouse-appliance/internal/lifecycle"
	"github.com/melih/lighthouse-appliance/internal/logger"
	"github.com/melih/lighthouse-appliance/internal/readiness"
	"github.com/melih/lighthouse-appliance/internal/volumes"
)

// session is everything a command needs to talk to the appliance.
type session struct {
	cfg   *config.Config
	coord *lifecycle.Coordinator
	ctx   context.Context

	close func()
}

// loadConfig reads the config file and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(logLevel)
	}
	return cfg, nil
}

// InitLogger configures the global logger from cfg.
func InitLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// openSession loads config, connects to Docker and wires the coordinator. The
// returned context is cancelled on SIGINT or SIGTERM and carries the run's log fields.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, err
	}

	adapter, err := docker.NewAdapter(cfg.Container.StopTimeout)
	if err != nil {
		return nil, err
	}

	coord, err := lifecycle.New(cfg, lifecycle.Dependencies{
		Runtime: adapter,
		Builder: builder.NewBuilderAdapter(adapter.Client(), os.Stderr),
		Terminal: lifecycle.Terminal{
			In:  os.Stdin,
			Out: os.Stdout,
			Err: os.Stderr,
			TTY: term.IsTerminal(int(os.Stdin.Fd())),
		},
	})
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	ctx = logger.WithContext(ctx, logger.NewLogContext(cmd.Name(), cfg.Container.Name))

	return &session{
		cfg:   cfg,
		coord: coord,
		ctx:   ctx,
		close: func() {
			stop()
			_ = adapter.Close()
		},
	}, nil
}

// printResult summarizes a lifecycle result for the operator.
func printResult(w io.Writer, cfg *config.Config, res *lifecycle.Result) {
	if res == nil {
		return
	}

	var pairs [][2]string
	if res.Readiness != nil {
		pairs = append(pairs, [2]string{"Database", fmt.Sprintf("ready after %d tick(s) (%s)", res.Readiness.Ticks, res.Readiness.ReadyBy)})
	}
	if res.Verdict != nil {
		pairs = append(pairs, [2]string{"Startup path", res.Verdict.Decision.String()})
		for _, table := range cfg.Database.KeyTables {
			if n, ok := res.Verdict.TableCounts[table]; ok {
				pairs = append(pairs, [2]string{"Rows in " + table, fmt.Sprint(n)})
			}
		}
		pairs = append(pairs,
			[2]string{"Panel", fmt.Sprintf("http://<host>:%d", cfg.Ports.Web)},
			[2]string{"Proxy (tcp)", fmt.Sprint(cfg.Ports.ProtocolA)},
			[2]string{"Proxy (udp)", fmt.Sprint(cfg.Ports.ProtocolB)},
		)
	}
	if res.Backup != nil {
		pairs = append(pairs,
			[2]string{"Archive", res.Backup.Path},
			[2]string{"Size", output.Bytes(res.Backup.Size)},
		)
		if res.Backup.Checksum != "" {
			pairs = append(pairs, [2]string{"BLAKE3", res.Backup.Checksum})
		}
	}
	if len(res.Pruned) > 0 {
		pairs = append(pairs, [2]string{"Pruned", strings.Join(res.Pruned, ", ")})
	}
	if len(pairs) > 0 {
		output.KeyValues(w, pairs)
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warning)
	}
}

// runLifecycle opens a session, runs op and prints its result.
func runLifecycle(cmd *cobra.Command, op func(*session) (*lifecycle.Result, error)) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := op(s)
	printResult(cmd.OutOrStdout(), s.cfg, res)
	explain(cmd.ErrOrStderr(), err)
	return err
}

// explain prints remediation hints for failures the operator has to act on.
func explain(w io.Writer, err error) {
	var notReady *readiness.NotReadyError
	switch {
	case errors.As(err, &notReady):
		fmt.Fprintln(w, notReady.Diagnostics.String())
		fmt.Fprintln(w, "The container was left running. Inspect it with \"lighthouse logs\" or \"lighthouse shell\".")
	case errors.Is(err, volumes.ErrLocked):
		fmt.Fprintln(w, "Another lighthouse command is running against this host.")
	case errors.Is(err, lifecycle.ErrNotDeployed):
		fmt.Fprintln(w, "Run \"lighthouse deploy\" first.")
	}
}
