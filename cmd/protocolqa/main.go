package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/protocolqa/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "protocolqa",
		Short:         "Question answering and structured extraction over clinical trial protocols",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./protocolqa.yaml)")

	root.AddCommand(
		serveCMD(&cfgPath),
		ingestCMD(&cfgPath),
		askCMD(&cfgPath),
		searchCMD(&cfgPath),
		statusCMD(&cfgPath),
		versionCMD(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func versionCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "protocolqa\n")
			fmt.Fprintf(out, "Version: %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
			fmt.Fprintf(out, "Schema Version: %s\n", storage.CurrentSchemaVersion)
		},
	}
}
