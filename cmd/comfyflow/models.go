package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func modelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models [folder]",
		Short: "List model folders, or the models in one folder (checkpoints, loras, ...)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			client, err := a.client()
			if err != nil {
				return err
			}
			var names []string
			if len(args) == 0 {
				names, err = client.ModelFolders(ctx)
			} else {
				names, err = client.Models(ctx, args[0])
			}
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func optionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "options <class> <input>",
		Short: "List the choices of an enumerated node input, e.g. KSampler sampler_name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			client, err := a.client()
			if err != nil {
				return err
			}
			opts, err := client.Options(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for _, o := range opts {
				fmt.Fprintln(cmd.OutOrStdout(), o)
			}
			return nil
		},
	}
}
