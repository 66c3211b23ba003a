package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"m8flash/internal/history"
	"m8flash/internal/session"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var board string
	var outcome string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded flashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter := history.Filter{Board: strings.TrimSpace(board), Limit: limit}
			switch strings.ToLower(strings.TrimSpace(outcome)) {
			case "":
			case string(session.OutcomeSucceeded):
				filter.Outcome = session.OutcomeSucceeded
			case string(session.OutcomeFailed):
				filter.Outcome = session.OutcomeFailed
			default:
				return fmt.Errorf("unknown outcome %q (want succeeded or failed)", outcome)
			}

			store, err := history.Open(cmd.Context(), cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if jsonOut {
				if entries == nil {
					entries = []history.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No flashes recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries, time.Now()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&board, "board", "b", "", "Only show flashes of this board tag")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show succeeded or failed flashes")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func renderHistory(entries []history.Entry, now time.Time) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			humanize.RelTime(e.FinishedAt, now, "ago", "from now"),
			e.Board,
			orDash(e.Version),
			titleWord(string(e.Outcome)),
			e.Duration().Round(time.Second).String(),
			orDash(e.Message),
		})
	}
	return renderTable(
		[]column{col("When"), col("Board"), col("Version"), col("Outcome"), colRight("Took"), col("Message")},
		rows,
	)
}
