package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/RichardoC/persona-chat/internal/api"
	"github.com/RichardoC/persona-chat/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, app.Options{Logger: logger})
		if err != nil {
			logger.Fatal("failed to initialize chat backend", zap.Error(err))
		}
		defer a.Close()

		handler := api.NewHandler(a.Service, logger, pageFromConfig(), api.Info{
			Model:       a.Service.Model(),
			Documents:   a.Grounding.Count(),
			CountTokens: a.PromptTokens,
		})
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("starting server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			return a.RunSweeper(gctx)
		})

		if err := g.Wait(); err != nil {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
		return nil
	},
}

func pageFromConfig() api.Page {
	return api.Page{
		Title:        cfg.UI.Title,
		Intro:        cfg.UI.Intro,
		Name:         cfg.Persona.Name,
		Caption:      cfg.UI.Caption,
		Placeholder:  cfg.UI.Placeholder,
		Note:         cfg.UI.Note,
		QuickPrompts: cfg.UI.QuickPrompts,
		Links:        cfg.UI.Links,
	}
}
