package main

import (
	"github.com/spf13/cobra"

	"github.com/LerianStudio/lib-reelforge/reelforge"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "reelforge",
		Short:         "Turn scripted scenes into a narrated video",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			reelforge.InitLocalEnvConfig()
		},
	}

	root.AddCommand(newServeCommand(), newRenderCommand())

	return root
}
