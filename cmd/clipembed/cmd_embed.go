package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func embedCmd() *cobra.Command {
	var (
		positive string
		negative string
	)

	cmd := &cobra.Command{
		Use:   "embed [text]",
		Short: "Embed one positive text (and optional negative) and print the response",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				positive = args[0]
			}
			if positive == "" && !cmd.Flags().Changed("positive") {
				return fmt.Errorf("embed: positive text is required")
			}

			logger := newLogger()
			h := newHost(cmd.Context(), logger)
			defer func() { _ = h.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Worker.RequestTimeout)
			defer cancel()

			resp, err := h.Embed(ctx, positive, negative)
			if err != nil {
				if hostErr := h.Err(); hostErr != nil {
					return fmt.Errorf("embed: %w", hostErr)
				}
				return fmt.Errorf("embed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("embed: writing response: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&positive, "positive", "", "Text to embed")
	cmd.Flags().StringVar(&negative, "negative", "", "Optional second text; empty yields a null negative embedding")
	return cmd
}
