package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"m8flash/internal/acquire"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect downloaded firmware",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List downloaded firmware images and where they came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			images, err := acquire.ListCache(cfg.Paths.DownloadDir)
			if err != nil {
				return err
			}
			if jsonOut {
				if images == nil {
					images = []acquire.CachedImage{}
				}
				return writeJSON(cmd, images)
			}
			out := cmd.OutOrStdout()
			if len(images) == 0 {
				fmt.Fprintf(out, "No firmware cached in %s\n", cfg.Paths.DownloadDir)
				return nil
			}
			fmt.Fprintln(out, renderCache(images, time.Now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete downloaded firmware images",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			images, err := acquire.ListCache(cfg.Paths.DownloadDir)
			if err != nil {
				return err
			}
			var freed uint64
			removed := 0
			for _, img := range images {
				if err := os.Remove(img.Path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", img.Name, err)
					continue
				}
				freed += uint64(img.Size)
				removed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d image(s), freed %s\n", removed, humanize.IBytes(freed))
			return nil
		},
	}
}

func renderCache(images []acquire.CachedImage, now time.Time) string {
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		rows = append(rows, []string{
			img.Name,
			humanize.IBytes(uint64(img.Size)),
			humanize.RelTime(img.Modified, now, "ago", "from now"),
			orDash(img.Origin),
		})
	}
	return renderTable(
		[]column{col("Image"), colRight("Size"), col("Fetched"), col("Origin")},
		rows,
	)
}
