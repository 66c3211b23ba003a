package devices

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pilebones/go-udev/netlink"

	"m8flash/internal/logging"
	"m8flash/internal/session"
)

// NetlinkNotifier listens for udev uevents about serial and USB devices from
// one vendor. It only signals changes; listing goes through tycmd.
type NetlinkNotifier struct {
	vendorID string
	logger   *slog.Logger
}

// NewNetlinkNotifier builds a notifier filtered on vendorID (hex, e.g. 16c0).
func NewNetlinkNotifier(vendorID string, logger *slog.Logger) *NetlinkNotifier {
	return &NetlinkNotifier{
		vendorID: strings.ToLower(strings.TrimSpace(vendorID)),
		logger:   logging.NewComponentLogger(logger, "netlink-notifier"),
	}
}

// Watch connects to the udev netlink socket and streams matched uevents.
func (n *NetlinkNotifier) Watch(ctx context.Context) (Stream, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, session.BusError("netlink connect", err)
	}

	stream, runCtx := newChanStream(ctx, 16)
	queue := make(chan netlink.UEvent, 8)
	errs := make(chan error, 2)
	monitorQuit := conn.Monitor(queue, errs, n.matcher())

	n.logger.Info("netlink notifier started",
		logging.String(logging.FieldEventType, "netlink_notifier_started"),
		logging.String("vendor_id", n.vendorID),
	)

	go func() {
		defer stopMonitor(monitorQuit, queue, errs, conn)
		for {
			select {
			case <-runCtx.Done():
				stream.finish(nil)
				return
			case uevent := <-queue:
				note, ok := notificationFromUEvent(uevent)
				if !ok {
					continue
				}
				n.logger.Debug("uevent matched",
					logging.String("action", string(uevent.Action)),
					logging.String("identity", note.Identity),
				)
				if !stream.emit(runCtx, note) {
					stream.finish(nil)
					return
				}
			case err := <-errs:
				stream.finish(session.BusError("netlink monitor", err))
				return
			}
		}
	}()
	return stream, nil
}

// stopMonitor tells the monitor goroutine to quit, closes its socket and
// empties anything it already queued so a pending send cannot block it.
func stopMonitor(quit chan struct{}, queue chan netlink.UEvent, errs chan error, conn io.Closer) {
	close(quit)
	_ = conn.Close()
	for {
		select {
		case <-queue:
		case <-errs:
		default:
			return
		}
	}
}

// matcher accepts tty and usb add/remove/change events from the vendor.
func (n *NetlinkNotifier) matcher() netlink.Matcher {
	action := "add|remove|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM":    "tty",
			"ID_VENDOR_ID": n.vendorID,
		},
	})
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"PRODUCT":   fmt.Sprintf("^%s/", n.vendorID),
		},
	})
	return rules
}

// notificationFromUEvent maps a uevent onto a notification. The serial number
// is the identity when udev reports one, otherwise the device node.
func notificationFromUEvent(uevent netlink.UEvent) (Notification, bool) {
	var action Action
	switch uevent.Action {
	case netlink.ADD:
		action = ActionAdd
	case netlink.REMOVE:
		action = ActionRemove
	case netlink.CHANGE:
		action = ActionChange
	default:
		return Notification{}, false
	}
	identity := strings.TrimSpace(uevent.Env["ID_SERIAL_SHORT"])
	if identity == "" {
		identity = strings.TrimSpace(uevent.Env["DEVNAME"])
	}
	if identity == "" {
		if devpath := uevent.Env["DEVPATH"]; devpath != "" {
			identity = filepath.Base(devpath)
		}
	}
	return Notification{Action: action, Identity: identity, Source: "netlink"}, true
}
