package main

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/limbot/internal/config"
	"github.com/park285/limbot/internal/gamelog"
	"github.com/park285/limbot/internal/msgcat"
	"github.com/spf13/cobra"
)

var scoreVerbose bool

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Prints the recorded tournament score",
	Args:  cobra.NoArgs,
	RunE:  runScore,
}

func init() {
	scoreCmd.Flags().BoolVarP(&scoreVerbose, "verbose", "v", false, "list every recorded game")
}

func runScore(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	store, err := gamelog.Open(ctx, cfg.RedisURL, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreVerbose {
		for _, e := range entries {
			winner := "draw"
			if e.Result.Winner != nil {
				winner = *e.Result.Winner
			}
			fmt.Fprintf(out, "%s  %s  %-5s  %-5s  %-10s  %s\n", e.Time.Format(time.RFC3339), e.GameID, e.BotColor, winner, e.Result.EndBy, e.Opening)
		}
	}
	line, err := catalog.Render("score", map[string]any{"Score": gamelog.Score(entries).String()})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, line)
	return nil
}
