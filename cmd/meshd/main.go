// Command meshd is the agent mesh's single runnable binary: it loads a
// Config document, wires every SPEC_FULL.md component (agents,
// gateway, sandbox workers, async task store, control plane,
// discovery) onto one App Host, and serves until interrupted.
//
// Usage:
//
//	meshd serve --config mesh.yaml
//	meshd serve --config-source etcd --config /agentmesh/config --config-endpoints etcd1:2379
//
// Grounded on the teacher's cmd/hector main.go kong CLI shape (a
// top-level CLI struct with one Run-able subcommand and shared
// logging/config flags), narrowed from hector's zero-config/studio/RAG
// surface to the mesh's single serve path.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/solacelabs/agentmesh/pkg/config"
)

// CLI defines meshd's command-line interface.
type CLI struct {
	Serve ServeCmd `cmd:"" default:"1" help:"Load the config and run the mesh until interrupted."`

	LogLevel  string `help:"Log level (debug, info, warn, error); unset falls back to MESHD_LOG_LEVEL, then info."`
	LogFormat string `help:"Log format (text or json); unset falls back to MESHD_LOG_FORMAT, then text."`
}

// ServeCmd loads cfg and runs every wired App until SIGINT/SIGTERM.
type ServeCmd struct {
	Config          string   `short:"c" help:"Path to the mesh config document (or key/znode path for remote sources)." type:"path" default:"mesh.yaml"`
	ConfigSource    string   `name:"config-source" help:"Config source: file, consul, etcd, zookeeper." default:"file"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Remote config backend endpoints (consul/etcd/zookeeper)."`

	ShutdownTimeout time.Duration `name:"shutdown-timeout" help:"How long to wait for a clean shutdown before forcing exit." default:"10s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	log, err := initLogger(cli.LogLevel, cli.LogFormat)
	if err != nil {
		return err
	}

	if err := config.LoadEnvFiles(); err != nil {
		log.Warn("meshd: no .env file loaded", "error", err)
	}

	sourceType, err := config.ParseSourceType(c.ConfigSource)
	if err != nil {
		return err
	}
	cfg, err := config.Load(config.LoaderOptions{
		Type:      sourceType,
		Path:      c.Config,
		Endpoints: c.ConfigEndpoints,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("meshd: load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := buildMesh(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := m.host.Start(ctx); err != nil {
		return fmt.Errorf("meshd: start app host: %w", err)
	}
	log.Info("meshd: app host started", "apps", len(m.host.Apps()))

	go func() {
		if err := m.discoveryListener.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("meshd: discovery listener stopped", "error", err)
		}
	}()

	if m.gwAddr != "" {
		go func() {
			log.Info("meshd: gateway http transport listening", "addr", m.gwAddr)
			if err := m.gwTr.Serve(m.gwAddr); err != nil {
				log.Error("meshd: gateway http transport stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("meshd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	if err := m.gwTr.Shutdown(shutdownCtx); err != nil {
		log.Warn("meshd: gateway http transport shutdown error", "error", err)
	}
	if err := m.host.Stop(shutdownCtx); err != nil {
		log.Warn("meshd: app host shutdown error", "error", err)
	}
	if err := m.obs.Shutdown(shutdownCtx); err != nil {
		log.Warn("meshd: observability shutdown error", "error", err)
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("meshd"),
		kong.Description("Agent mesh runtime: gateway, agents, sandbox, control plane over a shared broker."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
