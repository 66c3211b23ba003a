package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"m8flash/internal/app"
	"m8flash/internal/devices"
	"m8flash/internal/history"
	"m8flash/internal/preflight"
	"m8flash/internal/session"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check dependencies, directories, and attached boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), cfg)
			var lister preflight.BoardLister
			if client, err := app.NewTycmdClient(cfg); err == nil {
				lister = devices.NewTycmdBus(client)
			}
			results = append(results, preflight.CheckBoards(cmd.Context(), lister))

			lines := renderSectionHeader("System", colorize)
			lines = append(lines, checkLines(results, colorize)...)

			if store, err := history.Open(cmd.Context(), cfg.HistoryPath()); err == nil {
				entries, listErr := store.List(cmd.Context(), history.Filter{Limit: 1})
				_ = store.Close()
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Last flash", colorize)...)
				switch {
				case listErr != nil:
					lines = append(lines, renderStatusLine("History", statusWarn, listErr.Error(), colorize))
				case len(entries) == 0:
					lines = append(lines, renderStatusLine("History", statusInfo, "No flashes recorded", colorize))
				default:
					e := entries[0]
					kind := statusOK
					if e.Outcome != session.OutcomeSucceeded {
						kind = statusError
					}
					detail := fmt.Sprintf("%s on %s", titleWord(string(e.Outcome)), e.FinishedAt.Local().Format("2006-01-02 15:04"))
					if e.Version != "" {
						detail = e.Version + ": " + detail
					}
					lines = append(lines, renderStatusLine(e.Board, kind, detail, colorize))
				}
			}

			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
