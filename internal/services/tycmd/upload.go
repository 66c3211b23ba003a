package tycmd

import (
	"context"
	"regexp"
	"strings"

	"m8flash/internal/services"
	"m8flash/internal/session"
)

var uploadPrefix = regexp.MustCompile(`^\s*(?:upload|board)@\S+\s+(.*)$`)

// finalizeMarkers are output fragments meaning the image has been written and
// the board is rebooting into it.
var finalizeMarkers = []string{"Sending reset command", "Booting"}

// UpdateFirmware uploads image to the board identified by tag and reports each
// output line as an update status.
func (c *Client) UpdateFirmware(ctx context.Context, image, tag string, onProgress func(session.UpdateStatus)) error {
	image = strings.TrimSpace(image)
	tag = strings.TrimSpace(tag)
	if image == "" {
		return services.Wrap(services.ErrValidation, "tycmd", "upload", "image path required", nil)
	}
	if tag == "" {
		return services.Wrap(services.ErrValidation, "tycmd", "upload", "board tag required", nil)
	}
	args := []string{"upload", "--board", tag}
	if c.noCheck {
		args = append(args, "--nocheck")
	}
	args = append(args, image)

	finalizing := false
	return c.run(ctx, "upload", c.uploadTimeout, args, func(line string) {
		if onProgress == nil {
			return
		}
		status, ok := ParseUploadLine(line)
		if !ok {
			return
		}
		// Once the reset is sent every later line belongs to the reboot.
		if finalizing {
			status.State = session.UpdateFinalizing
		}
		finalizing = status.State == session.UpdateFinalizing
		onProgress(status)
	})
}

// ParseUploadLine maps one line of upload output onto an update status. Blank
// lines report false.
func ParseUploadLine(line string) (session.UpdateStatus, bool) {
	message := strings.TrimSpace(line)
	if match := uploadPrefix.FindStringSubmatch(line); match != nil {
		message = strings.TrimSpace(match[1])
	}
	if message == "" {
		return session.UpdateStatus{}, false
	}
	state := session.UpdateUpdating
	for _, marker := range finalizeMarkers {
		if strings.Contains(message, marker) {
			state = session.UpdateFinalizing
			break
		}
	}
	return session.UpdateStatus{State: state, Log: session.LogLine(message)}, true
}
