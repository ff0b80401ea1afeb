package main

import (
	"fmt"
	"os"

	"github.com/park285/limbot/internal/obslog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "limbot",
	Short: "Plays lichess games, steering toward a slowly growing advantage",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return obslog.InitFromEnv()
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(playCmd, scoreCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
