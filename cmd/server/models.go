package main

import (
	"fmt"

	"github.com/RichardoC/persona-chat/internal/app"
	"github.com/RichardoC/persona-chat/internal/llm"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the provider's models and show which one would be selected",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}
		apiKey, err := cfg.Credential()
		if err != nil {
			return err
		}
		provider, err := app.DefaultProviderFactory(ctx, cfg, apiKey)
		if err != nil {
			return err
		}
		defer provider.Close()

		available, err := provider.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", llm.ErrInitialization, err)
		}
		selected, ok := llm.PickModel(available, cfg.LLM.Preferences)
		if !ok {
			return llm.ErrNoCompatibleModel
		}

		out := cmd.OutOrStdout()
		for _, m := range available {
			mark := " "
			if m.Name == selected {
				mark = "*"
			}
			kind := "generative"
			if !m.Generative {
				kind = "other"
			}
			fmt.Fprintf(out, "%s %-40s %s\n", mark, m.Name, kind)
		}
		return nil
	},
}
