package devices

import (
	"context"

	"m8flash/internal/services/tycmd"
	"m8flash/internal/session"
)

// tycmdClient is the subset of *tycmd.Client the bus needs.
type tycmdClient interface {
	List(ctx context.Context) ([]tycmd.Entry, error)
	Watch(ctx context.Context, onEntry func(tycmd.Entry)) error
}

// TycmdBus lists and watches boards through the tycmd CLI.
type TycmdBus struct {
	client tycmdClient
}

// NewTycmdBus wraps a tycmd client.
func NewTycmdBus(client tycmdClient) *TycmdBus {
	return &TycmdBus{client: client}
}

// List runs `tycmd list` and converts each board.
func (b *TycmdBus) List(ctx context.Context) ([]session.DeviceInfo, error) {
	entries, err := b.client.List(ctx)
	if err != nil {
		return nil, session.BusError("tycmd list", err)
	}
	devices := make([]session.DeviceInfo, 0, len(entries))
	for _, entry := range entries {
		devices = append(devices, entry.Device())
	}
	return devices, nil
}

// Watch streams `tycmd list -w` events. The stream ends when tycmd exits.
func (b *TycmdBus) Watch(ctx context.Context) (Stream, error) {
	stream, runCtx := newChanStream(ctx, 16)
	go func() {
		err := b.client.Watch(runCtx, func(entry tycmd.Entry) {
			stream.emit(runCtx, Notification{
				Action:   Action(entry.Action),
				Identity: entry.Identity(),
				Source:   "tycmd",
			})
		})
		if err != nil && runCtx.Err() == nil {
			stream.finish(session.BusError("tycmd watch", err))
			return
		}
		stream.finish(nil)
	}()
	return stream, nil
}
