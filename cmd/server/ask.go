package main

import (
	"fmt"
	"strings"

	"github.com/RichardoC/persona-chat/internal/app"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the persona a single question and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := app.New(ctx, cfg, app.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer a.Close()

		sess, err := a.Service.StartSession(ctx)
		if err != nil {
			return err
		}
		reply, err := a.Service.Ask(ctx, sess.ID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
		return nil
	},
}
