// Package devices discovers embedded boards on the serial/USB bus and keeps
// the session device list current.
//
// A Bus pairs a Lister, which enumerates boards, with a Notifier, which blocks
// until something on the bus may have changed. The tycmd tool serves both
// roles; the netlink (udev) and devfs (fsnotify) notifiers only signal changes
// and rely on tycmd for listing. The Watcher re-lists on every notification,
// diffs the result against its previous snapshot, and publishes only when the
// device set or a device's state changed.
package devices
