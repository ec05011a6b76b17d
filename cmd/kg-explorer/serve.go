package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cugtyt/kg-explorer/internal/server"
	"github.com/cugtyt/kg-explorer/internal/views"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the explorer views over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if port == "" {
				port = a.cfg.Server.Port
			}
			return runServer(cmd.Context(), a, ":"+port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides server.port)")
	return cmd
}

// mountViews builds both screens, restoring saved state when Redis is
// configured.
func mountViews(ctx context.Context, a *app) (*views.Workspace, *views.Chat) {
	workspaceOpts := []views.Option{views.WithLogger(a.logger)}
	chatOpts := []views.Option{views.WithLogger(a.logger)}
	if a.redis != nil {
		workspaceOpts = append(workspaceOpts, views.WithGraphLoader(a.graphs))
		chatOpts = append(chatOpts, views.WithTranscriptLoader(a.conversation))
	}

	workspace := views.NewWorkspace(a.bus, a.svc, workspaceOpts...)
	chat := views.NewChat(a.bus, a.svc, workspace, chatOpts...)
	workspace.Mount()
	chat.Mount()

	if err := workspace.Restore(ctx); err != nil {
		a.logger.Warnf("Starting with an empty workspace: %v", err)
	}
	if err := chat.Restore(ctx); err != nil {
		a.logger.Warnf("Starting with an empty chat: %v", err)
	}
	return workspace, chat
}

func (a *app) serverOptions() []server.Option {
	opts := []server.Option{
		server.WithLogger(a.logger),
		server.WithGatherer(a.registry),
	}
	if a.redis != nil {
		opts = append(opts, server.WithHealthCheck("redis", a.redis.Ping))
	}
	if bridge := a.bridge; bridge != nil {
		opts = append(opts, server.WithHealthCheck("nats", func(context.Context) error {
			if !bridge.IsConnected() {
				return errors.New(bridge.Status())
			}
			return nil
		}))
	}
	return opts
}

func runServer(ctx context.Context, a *app, addr string) error {
	workspace, chat := mountViews(ctx, a)
	defer chat.Unmount()
	defer workspace.Unmount()

	srv := server.New(workspace, chat, a.bus, a.serverOptions()...)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,

		// Streams end with the command context so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("KG explorer listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down KG explorer...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warnf("Server forced to shutdown: %v", err)
	}
	a.logger.Info("KG explorer stopped")
	return nil
}
