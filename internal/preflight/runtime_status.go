package preflight

import (
	"context"
	"fmt"
	"strings"

	"m8flash/internal/session"
)

// BoardLister enumerates attached boards.
type BoardLister interface {
	List(ctx context.Context) ([]session.DeviceInfo, error)
}

// CheckBoards lists attached boards and summarizes the result. No boards is
// a pass; a failing enumeration is not.
func CheckBoards(ctx context.Context, lister BoardLister) Result {
	const name = "Boards"
	if lister == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	devices, err := lister.List(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("enumeration failed (%v)", err)}
	}
	devices = session.DedupDevices(devices)
	if len(devices) == 0 {
		return Result{Name: name, Passed: true, Detail: "No boards attached"}
	}
	tags := make([]string, 0, len(devices))
	for _, dev := range devices {
		tags = append(tags, dev.Tag)
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d attached: %s", len(devices), strings.Join(tags, ", "))}
}
