package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bookbyte",
	Short: "Resumable long-document generation worker for book summaries",
	Long: `BookByte's generation worker turns one source document into one long
generated summary across multiple trigger invocations.

Each trigger advances a persisted job by exactly one bounded generation
step: the source PDF is downloaded and extracted once, then a chat model
is driven with the accumulated output fed back as a continuation seed
until it reports natural completion.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.bookbyte/config.yaml)",
	)

	// Local development keeps API keys in .env; missing file is fine.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}
