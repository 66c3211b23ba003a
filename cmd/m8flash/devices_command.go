package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"m8flash/internal/app"
	"m8flash/internal/devices"
	"m8flash/internal/session"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var watch bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List attached boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := app.NewTycmdClient(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !watch {
				listed, err := devices.NewTycmdBus(client).List(cmd.Context())
				if err != nil {
					return err
				}
				listed = session.DedupDevices(listed)
				if jsonOut {
					return writeJSON(cmd, listed)
				}
				fmt.Fprintln(out, renderDevices(listed))
				return nil
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			logger, err := cliLogger(cfg, false)
			if err != nil {
				return err
			}
			bus, err := devices.NewBus(cfg, client, logger)
			if err != nil {
				return err
			}
			watcher := devices.NewWatcher(session.NewStore(), bus,
				devices.BackoffFromConfig(cfg),
				devices.WithLogger(logger),
			)
			watcher.Start(signalCtx, devices.ObserverFunc(func(_ context.Context, snapshot session.DeviceSnapshot) {
				printDeviceUpdate(out, snapshot.Devices, jsonOut)
			}))
			<-signalCtx.Done()
			watcher.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print the list whenever it changes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func printDeviceUpdate(out io.Writer, list []session.DeviceInfo, jsonOut bool) {
	if jsonOut {
		data, err := jsonLine(list)
		if err == nil {
			fmt.Fprintln(out, data)
		}
		return
	}
	fmt.Fprintf(out, "%s\n%s\n", time.Now().Format("15:04:05"), renderDevices(list))
}

func renderDevices(list []session.DeviceInfo) string {
	if len(list) == 0 {
		return "No boards attached"
	}
	rows := make([][]string, 0, len(list))
	for _, dev := range list {
		rows = append(rows, []string{
			orDash(dev.Tag),
			orDash(dev.Model),
			orDash(dev.Serial),
			orDash(dev.Location),
			titleWord(string(dev.State)),
			orDash(strings.Join(dev.Capabilities, ", ")),
		})
	}
	return renderTable(
		[]column{col("Tag"), col("Model"), col("Serial"), col("Location"), col("State"), col("Capabilities")},
		rows,
	)
}
