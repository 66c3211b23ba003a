package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"m8flash/internal/bridge"
	"m8flash/internal/logging"
	"m8flash/internal/session"
)

// progressView turns flashing-status events into terminal output: a byte
// progress bar on terminals, sampled percentage lines elsewhere.
type progressView struct {
	out      io.Writer
	animated bool
	bar      *progressbar.ProgressBar
	sampler  *logging.ProgressSampler
	lastLog  string
}

func newProgressView(out io.Writer, animated bool) *progressView {
	return &progressView{out: out, animated: animated, sampler: logging.NewProgressSampler(25)}
}

// follow renders events until the subscription ends.
func (v *progressView) follow(sub *bridge.Subscription) {
	for ev := range sub.Events() {
		if ev.Kind != bridge.EventFirmwareFlashingStatus {
			continue
		}
		var status session.FlashingStatus
		if err := json.Unmarshal(ev.Payload, &status); err != nil {
			continue
		}
		v.render(status)
	}
	v.finishBar()
}

func (v *progressView) render(status session.FlashingStatus) {
	switch {
	case status.Downloading != nil:
		v.renderDownload(*status.Downloading)
	case status.Updating != nil:
		v.finishBar()
		v.renderUpdate(*status.Updating)
	}
}

func (v *progressView) renderDownload(d session.DownloadStatus) {
	switch d.State {
	case session.DownloadStarting:
		v.sampler.Reset()
		fmt.Fprintln(v.out, "Fetching firmware")
	case session.DownloadDownloading:
		if v.animated {
			v.advanceBar(d)
			return
		}
		percent := logging.Percent(d.BytesDownloaded, d.Size)
		if !v.sampler.ShouldLog(percent, "download") {
			return
		}
		if percent < 0 {
			fmt.Fprintf(v.out, "Downloaded %s\n", humanize.IBytes(d.BytesDownloaded))
			return
		}
		fmt.Fprintf(v.out, "Downloaded %s of %s (%.0f%%)\n",
			humanize.IBytes(d.BytesDownloaded), humanize.IBytes(d.Size), percent)
	case session.DownloadComplete:
		v.finishBar()
		fmt.Fprintf(v.out, "Firmware ready (%s)\n", humanize.IBytes(d.Size))
	case session.DownloadError:
		v.finishBar()
		if d.Log != nil {
			fmt.Fprintf(v.out, "Download failed: %s\n", *d.Log)
		}
	}
}

func (v *progressView) advanceBar(d session.DownloadStatus) {
	if v.bar == nil {
		total := int64(-1)
		if d.Size > 0 {
			total = int64(d.Size)
		}
		v.bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(v.out),
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	} else if d.Size > 0 && v.bar.GetMax64() != int64(d.Size) {
		v.bar.ChangeMax64(int64(d.Size))
	}
	_ = v.bar.Set64(int64(d.BytesDownloaded))
}

func (v *progressView) finishBar() {
	if v.bar == nil {
		return
	}
	_ = v.bar.Finish()
	v.bar = nil
}

func (v *progressView) renderUpdate(u session.UpdateStatus) {
	line := string(u.State)
	if u.Log != nil && *u.Log != "" {
		line += ": " + *u.Log
	}
	if line == v.lastLog {
		return
	}
	v.lastLog = line
	fmt.Fprintln(v.out, line)
}
