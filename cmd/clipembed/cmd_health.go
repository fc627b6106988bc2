package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/clipembed/pkg/tokenizer"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the model files resolve and the encoder answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			loader := newLoader(logger)
			allOK := true

			// Check tokenizer files
			tok, err := loader.LoadTokenizer(ctx, cfg.Model.ID)
			if err != nil {
				fmt.Printf("Tokenizer: FAIL (%v)\n", err)
				allOK = false
			} else {
				fmt.Println("Tokenizer: OK")
			}

			// Check encoder backend
			model, err := loader.LoadTextModel(ctx, cfg.Model.ID)
			if err != nil {
				fmt.Printf("Encoder (%s): FAIL (%v)\n", cfg.Model.Backend, err)
				allOK = false
			} else if tok == nil {
				fmt.Printf("Encoder (%s): loaded, not exercised (dimension %d)\n", cfg.Model.Backend, model.Dimension())
			} else {
				inputs, tokErr := tok.Encode("health check", tokenizer.Options{
					Padding:    cfg.Tokenizer.Padding,
					Truncation: cfg.Tokenizer.Truncation,
				})
				if tokErr != nil {
					fmt.Printf("Encoder (%s): FAIL (%v)\n", cfg.Model.Backend, tokErr)
					allOK = false
				} else if _, encErr := model.Encode(ctx, inputs); encErr != nil {
					fmt.Printf("Encoder (%s): FAIL (%v)\n", cfg.Model.Backend, encErr)
					allOK = false
				} else {
					fmt.Printf("Encoder (%s): OK (dimension %d)\n", cfg.Model.Backend, model.Dimension())
				}
			}

			if c, ok := model.(io.Closer); ok {
				_ = c.Close()
			}
			if c, ok := tok.(io.Closer); ok {
				_ = c.Close()
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
