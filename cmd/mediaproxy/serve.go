package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediakit-io/go-mediaproxy/server"
	"github.com/spf13/cobra"
)

func serveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP proxy",
		Long: `Run the HTTP proxy until interrupted.

Routes:
  GET    /api/files          latest files
  PATCH  /api/files/{id}     rename a file
  DELETE /api/files/{id}     delete a file
  POST   /api/sign-upload    signed PUT into the uploads folder
  POST   /api/sign-put       short lived signed PUT
  POST   /api/sign-get       short lived signed GET
  POST   /api/resumable      resumable upload session
  POST   /api/upload         import a remote URL
  GET    /api/task?id=       task status
  GET    /health, /metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if !a.client.HasCredential() {
		a.logger.Warnf("ITTYBIT_API_KEY is not set, every /api route will answer 500")
	}

	options := server.DefaultOptions()
	options.Production = a.cfg.IsProduction()
	options.AllowedOrigins = a.cfg.Server.AllowedOrigins

	handler := server.NewHandler(a.client, a.ingester, a.metrics, a.logger)
	srv := &http.Server{
		Addr:    a.cfg.Addr(),
		Handler: server.NewRouter(handler, a.metrics, a.logger, options),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Infof("Gracefully shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Donef("Server shutdown complete")
	return nil
}
