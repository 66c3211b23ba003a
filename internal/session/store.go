package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store owns the Session and serializes all access to it. Acquiring access
// waits on a one-slot channel, so a waiting caller can be cancelled through
// its context and never spins.
type Store struct {
	sem     chan struct{}
	session Session
}

// NewStore creates a store holding a Session with default values.
func NewStore() *Store {
	return &Store{
		sem:     make(chan struct{}, 1),
		session: newSession(),
	}
}

// Guard grants exclusive access until Release.
type Guard struct {
	store    *Store
	released bool
}

// Lock waits for exclusive access or until ctx ends.
func (s *Store) Lock(ctx context.Context) (*Guard, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case s.sem <- struct{}{}:
		return &Guard{store: s}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session: %w", ctx.Err())
	}
}

// Session returns the guarded session, or nil once released.
func (g *Guard) Session() *Session {
	if g == nil || g.released {
		return nil
	}
	return &g.store.session
}

// Err returns ErrGuardReleased once the guard has been released.
func (g *Guard) Err() error {
	if g == nil || g.released {
		return ErrGuardReleased
	}
	return nil
}

// Release gives up access. Releasing twice is a no-op.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	<-g.store.sem
}

// Update runs fn with exclusive access. The lock is released before Update
// returns, whether fn fails or not.
func (s *Store) Update(ctx context.Context, fn func(*Session) error) error {
	guard, err := s.Lock(ctx)
	if err != nil {
		return err
	}
	defer guard.Release()
	return fn(guard.Session())
}

// View runs fn with exclusive access for reading.
func (s *Store) View(ctx context.Context, fn func(*Session)) error {
	return s.Update(ctx, func(sess *Session) error {
		fn(sess)
		return nil
	})
}

// Snapshot returns a consistent deep copy of the session.
func (s *Store) Snapshot(ctx context.Context) (Session, error) {
	var out Session
	err := s.Update(ctx, func(sess *Session) error {
		out = sess.Clone()
		return nil
	})
	return out, err
}

// DeviceSnapshot is a point-in-time copy of the device list with its encoded
// event payload.
type DeviceSnapshot struct {
	Devices []DeviceInfo
	Payload json.RawMessage
}

// SnapshotDevices copies the device list under exclusive access and encodes
// it after access is released.
func (s *Store) SnapshotDevices(ctx context.Context) (DeviceSnapshot, error) {
	var devices []DeviceInfo
	if err := s.Update(ctx, func(sess *Session) error {
		devices = CloneDevices(sess.Devices)
		return nil
	}); err != nil {
		return DeviceSnapshot{}, err
	}
	if devices == nil {
		devices = []DeviceInfo{}
	}
	payload, err := json.Marshal(devices)
	if err != nil {
		return DeviceSnapshot{}, fmt.Errorf("encode device snapshot: %w", err)
	}
	return DeviceSnapshot{Devices: devices, Payload: payload}, nil
}
