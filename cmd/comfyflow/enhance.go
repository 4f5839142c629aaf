package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/comfyflow/pkg/llm"
	"github.com/ravi-parthasarathy/comfyflow/pkg/prompt"
)

func enhanceCmd(a *app) *cobra.Command {
	var (
		name   string
		model  string
		direct bool
	)

	cmd := &cobra.Command{
		Use:   "enhance <idea...>",
		Short: "Expand a short idea into a detailed image prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := prompt.Subject{Name: name, Description: strings.Join(args, " ")}
			if direct {
				text, err := prompt.Direct(subject)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			}

			if model == "" {
				model = a.cfg.Prompt.Model
			}
			client, err := llm.NewClient(model)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			text, err := prompt.NewEnhancer(client, prompt.WithMaxTokens(a.cfg.Prompt.MaxTokens)).Enhance(ctx, subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "subject name")
	cmd.Flags().StringVar(&model, "model", "", "LLM model as provider:model-id (default from config; providers: "+strings.Join(llm.Providers(), ", ")+")")
	cmd.Flags().BoolVar(&direct, "direct", false, "build the prompt without an LLM")
	return cmd
}
