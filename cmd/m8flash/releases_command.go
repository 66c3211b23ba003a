package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"m8flash/internal/acquire"
)

func newReleasesCommand(ctx *commandContext) *cobra.Command {
	var showChanges bool

	cmd := &cobra.Command{
		Use:   "releases [version]",
		Short: "List releases from the firmware catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := strings.TrimSpace(cfg.Firmware.CatalogPath)
			if path == "" {
				return errors.New("firmware.catalog_path is not set")
			}
			catalog, err := acquire.LoadCatalog(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				fw, ok := catalog.Find(args[0])
				if !ok {
					return fmt.Errorf("version %s is not in %s", args[0], path)
				}
				fmt.Fprint(out, renderChangelog(fw))
				return nil
			}
			rows := make([][]string, 0, len(catalog.Firmwares))
			for _, fw := range catalog.Firmwares {
				rows = append(rows, []string{fw.Version, orDash(fw.Date), orDash(fw.Path)})
			}
			fmt.Fprintln(out, renderTable([]column{col("Version"), col("Date"), col("Path")}, rows))
			if showChanges {
				for _, fw := range catalog.Firmwares {
					fmt.Fprint(out, renderChangelog(fw))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showChanges, "changes", false, "Print the changelog of every release")
	return cmd
}

func renderChangelog(fw acquire.Firmware) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", fw.Version)
	if fw.Date != "" {
		fmt.Fprintf(&b, " (%s)", fw.Date)
	}
	b.WriteString("\n")
	for _, section := range fw.Changelog {
		if section.Title != "" {
			fmt.Fprintf(&b, "  %s\n", section.Title)
		}
		for _, entry := range section.Entries {
			fmt.Fprintf(&b, "  - [%s] %s\n", titleWord(string(entry.Type)), entry.Description)
			for _, detail := range entry.Details {
				fmt.Fprintf(&b, "      %s\n", detail)
			}
		}
	}
	return b.String()
}
