package transport

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"m8flash/internal/bridge"
	"m8flash/internal/logging"
)

type client struct {
	conn    *websocket.Conn
	sub     *bridge.Subscription
	logger  *slog.Logger
	initial []bridge.Frame
}

// writePump is the only writer on conn. It ends when the subscription does,
// either on disconnect or when the bridge detaches a slow shell.
func (c *client) writePump() {
	defer c.conn.Close()
	for _, frame := range c.initial {
		if err := c.write(frame); err != nil {
			return
		}
	}
	for ev := range c.sub.Events() {
		if err := c.write(ev.Frame()); err != nil {
			c.logger.Debug("websocket write failed", logging.Error(err))
			return
		}
	}
}

func (c *client) write(frame bridge.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
