package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"m8flash/internal/acquire"
	"m8flash/internal/app"
	"m8flash/internal/config"
)

func newFlashCommand(ctx *commandContext) *cobra.Command {
	var board string
	var version string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "flash <file|url|version>",
		Short: "Download or extract firmware and write it to a board",
		Long: "Flash firmware from a local .hex/.zip file, a URL, or a release version.\n" +
			"A bare version is looked up in the release catalog when one is configured,\n" +
			"otherwise it is substituted into firmware.release_url_template.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			source, resolvedVersion, err := resolveFlashSource(signalCtx, cfg, args[0], version)
			if err != nil {
				return err
			}

			logger, err := cliLogger(cfg, quiet)
			if err != nil {
				return err
			}
			a, closeStore, err := app.Build(signalCtx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := a.Start(signalCtx); err != nil {
				return err
			}
			defer a.Stop()

			out := cmd.OutOrStdout()
			done := make(chan struct{})
			if !quiet {
				sub := a.Bridge().Subscribe()
				view := newProgressView(out, shouldColorize(out))
				go func() {
					defer close(done)
					view.follow(sub)
				}()
				defer func() {
					a.Bridge().Unsubscribe(sub)
					<-done
				}()
			}

			if err := a.FlashOnce(signalCtx, source, resolvedVersion, strings.TrimSpace(board)); err != nil {
				return err
			}
			fmt.Fprintln(out, "Firmware update complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&board, "board", "b", "", "Target board tag (defaults to the only attached board)")
	cmd.Flags().StringVar(&version, "version", "", "Version label recorded for a file or URL source")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output and logs")
	return cmd
}

// resolveFlashSource maps the argument to an archive source path. Files and
// URLs pass through; anything else is treated as a release version.
func resolveFlashSource(ctx context.Context, cfg *config.Config, arg, version string) (string, string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", "", errors.New("firmware source required")
	}
	if isURL(arg) {
		return arg, version, nil
	}
	if expanded, err := config.ExpandPath(arg); err == nil {
		if info, statErr := os.Stat(expanded); statErr == nil && !info.IsDir() {
			return expanded, version, nil
		}
	}
	if looksLikePath(arg) {
		return "", "", fmt.Errorf("firmware file %s not found", arg)
	}

	if version == "" {
		version = arg
	}
	resolver := newResolver(cfg)
	if path := strings.TrimSpace(cfg.Firmware.CatalogPath); path != "" {
		catalog, err := acquire.LoadCatalog(path)
		if err != nil {
			return "", "", err
		}
		if fw, ok := catalog.Find(arg); ok {
			source, err := catalog.Locate(ctx, fw, resolver)
			return source, version, err
		}
	}
	if resolver == nil {
		return "", "", fmt.Errorf("version %s: no release catalog entry and firmware.release_url_template is not set", arg)
	}
	source, err := resolver.Resolve(ctx, arg)
	return source, version, err
}

func newResolver(cfg *config.Config) *acquire.Resolver {
	template := strings.TrimSpace(cfg.Firmware.ReleaseURLTemplate)
	if template == "" {
		return nil
	}
	return acquire.NewResolver(template, &http.Client{Timeout: cfg.DownloadTimeout()},
		acquire.Headers{UserAgent: cfg.Firmware.UserAgent, Token: cfg.Firmware.GitHubToken})
}

func isURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

func looksLikePath(value string) bool {
	ext := strings.ToLower(filepath.Ext(value))
	return strings.ContainsRune(value, filepath.Separator) || ext == ".hex" || ext == ".zip"
}
