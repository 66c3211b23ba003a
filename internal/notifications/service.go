package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"m8flash/internal/config"
)

const userAgent = "m8flash/0.1.0"

// Service defines the notification surface exposed to the pipelines.
type Service interface {
	NotifyDownloadComplete(ctx context.Context, name string, size uint64) error
	NotifyFlashSucceeded(ctx context.Context, board, version string) error
	NotifyFlashFailed(ctx context.Context, board string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		succeeded: cfg.Notifications.FlashSucceeded,
		failed:    cfg.Notifications.FlashFailed,
		downloads: cfg.Notifications.Downloads,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client

	succeeded bool
	failed    bool
	downloads bool
}

func (n *ntfyService) NotifyDownloadComplete(ctx context.Context, name string, size uint64) error {
	if !n.downloads {
		return nil
	}
	name = strings.TrimSpace(name)
	message := fmt.Sprintf("Firmware downloaded: %s", name)
	if size > 0 {
		message = fmt.Sprintf("%s (%s)", message, humanize.IBytes(size))
	}
	return n.send(ctx, payload{
		title:   "m8flash - Download Complete",
		message: message,
		tags:    []string{"m8flash", "download", "completed"},
	})
}

func (n *ntfyService) NotifyFlashSucceeded(ctx context.Context, board, version string) error {
	if !n.succeeded {
		return nil
	}
	board = strings.TrimSpace(board)
	message := fmt.Sprintf("✅ Flashed %s", board)
	if version = strings.TrimSpace(version); version != "" {
		message = fmt.Sprintf("✅ Flashed %s with firmware %s", board, version)
	}
	return n.send(ctx, payload{
		title:   "m8flash - Flash Complete",
		message: message,
		tags:    []string{"m8flash", "flash", "completed"},
	})
}

func (n *ntfyService) NotifyFlashFailed(ctx context.Context, board string, err error) error {
	if !n.failed {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Flash failed")
	if board = strings.TrimSpace(board); board != "" {
		builder.WriteString(" on ")
		builder.WriteString(board)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "m8flash - Flash Failed",
		message:  builder.String(),
		tags:     []string{"m8flash", "flash", "error"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "m8flash - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"m8flash", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDownloadComplete(context.Context, string, uint64) error { return nil }
func (noopService) NotifyFlashSucceeded(context.Context, string, string) error   { return nil }
func (noopService) NotifyFlashFailed(context.Context, string, error) error       { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
