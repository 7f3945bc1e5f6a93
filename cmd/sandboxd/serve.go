package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandboxd/sandboxd/engine"
	"github.com/sandboxd/sandboxd/internal/config"
	"github.com/sandboxd/sandboxd/log"
	"github.com/sandboxd/sandboxd/server"
	"github.com/sandboxd/sandboxd/tool"
	"github.com/sandboxd/sandboxd/tool/code"
	"github.com/sandboxd/sandboxd/tool/convert"
	"github.com/sandboxd/sandboxd/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sandboxd HTTP server",
	Long: `Start the supervisor: connect to the Docker daemon, register the
built-in tools, and serve the execution API.

Examples:
  sandboxd serve
  sandboxd serve --config /etc/sandboxd/sandboxd.yaml
  SANDBOXD_SERVER_PORT=9000 sandboxd serve`,
	RunE: runServe,
}

var (
	portFlag        int
	storageRootFlag string
	logLevelFlag    string
)

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&storageRootFlag, "storage-root", "", "Workspace storage root (overrides config)")
	serveCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if storageRootFlag != "" {
		cfg.Storage.Root = storageRootFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	log.SetLevel(cfg.Log.Level)

	var storeOpts []workspace.Option
	if cfg.Storage.OwnerUID >= 0 {
		storeOpts = append(storeOpts, workspace.WithOwner(cfg.Storage.OwnerUID, cfg.Storage.OwnerGID))
	}
	store := workspace.NewStore(cfg.Storage.Root, storeOpts...)

	var engineOpts []engine.Option
	if cfg.Docker.Host != "" {
		engineOpts = append(engineOpts, engine.WithDockerHost(cfg.Docker.Host))
	}
	engineOpts = append(engineOpts, engine.WithWorkspaceWriter(store))
	eng, err := engine.New(engineOpts...)
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	defer eng.Close()

	if err := eng.Ping(cmd.Context()); err != nil {
		log.Warnf("docker daemon not reachable at startup: %v", err)
	}

	registry := tool.NewRegistry()
	if err := registry.Register(code.New(eng, store, code.WithImage(cfg.Docker.CodeImage))); err != nil {
		return err
	}
	if err := registry.Register(convert.New(eng, store, convert.WithImage(cfg.Docker.ConvertImage))); err != nil {
		return err
	}

	srv, err := server.New(store, registry,
		server.WithMaxConcurrent(cfg.Exec.MaxConcurrent),
		server.WithMaxInlineOutput(cfg.Exec.MaxInlineOutputBytes),
		server.WithDefaultTimeout(time.Duration(cfg.Exec.DefaultTimeoutSeconds)*time.Second),
		server.WithPinger(eng),
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	log.Infof("sandboxd listening on %s (tools: %v, workspaces: %s)",
		cfg.Addr(), registry.Names(), store.Root())
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
