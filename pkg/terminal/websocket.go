package terminal

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
	"github.com/antibyte/webterm/pkg/shared"
)

// [Network] settings.

func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 90*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 2048)) * 1024
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 256)
}

var messageTypeNames = map[shared.MessageType]string{
	shared.MessageTypeText:       "text",
	shared.MessageTypeClear:      "clear",
	shared.MessageTypeScroll:     "scroll",
	shared.MessageTypeTheme:      "theme",
	shared.MessageTypeSettings:   "settings",
	shared.MessageTypeDownload:   "download",
	shared.MessageTypeFilePicker: "filepicker",
	shared.MessageTypeEditor:     "editor",
	shared.MessageTypeConfirm:    "confirm",
	shared.MessageTypeSession:    "session",
	shared.MessageTypeInput:      "input",
	shared.MessageTypeClose:      "close",
}

func messageTypeLabel(t shared.MessageType) string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// errorLine is a single red output line followed by a scroll.
func errorLine(text string) []shared.Message {
	return []shared.Message{
		{Type: shared.MessageTypeText, Content: text, IsError: true},
		{Type: shared.MessageTypeScroll},
	}
}

// readPump decodes requests from the browser and feeds them to the session
// one at a time.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(logger.AreaWebSocket, "Panic in readPump for client %s: %v", c.ipAddress, r)
		}
		c.handler.cleanupClient(c)
	}()

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn(logger.AreaWebSocket, "Unexpected close for client %s: %v", c.ipAddress, err)
			} else {
				logger.Debug(logger.AreaWebSocket, "Connection closed for client %s: %v", c.ipAddress, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var request shared.Request
		if err := json.Unmarshal(message, &request); err != nil {
			logger.Warn(logger.AreaWebSocket, "Failed to parse JSON from client %s: %v", c.ipAddress, err)
			metrics.Default().WSMessages.WithLabelValues("in", "invalid").Inc()
			c.writeMessages(errorLine("Invalid request."))
			continue
		}
		if request.Type == "keepalive" {
			continue
		}
		if !c.handler.limiter.Allow(c.ipAddress) {
			c.writeMessages(errorLine("Too many requests. Please slow down."))
			continue
		}
		if err := c.handler.validator.ValidateRequest(&request); err != nil {
			logger.Warn(logger.AreaSecurity, "Rejected request from %s: %v", c.ipAddress, err)
			metrics.Default().WSMessages.WithLabelValues("in", "invalid").Inc()
			c.writeMessages(errorLine("Invalid input."))
			continue
		}

		metrics.Default().WSMessages.WithLabelValues("in", request.Type).Inc()
		c.writeMessages(c.handleRequest(&request))
	}
}

// handleRequest routes one validated request to the session.
func (c *Client) handleRequest(req *shared.Request) []shared.Message {
	s := c.session
	switch req.Type {
	case shared.RequestLine:
		return s.ProcessLine(req.Content)
	case shared.RequestKey:
		if req.Key == "ArrowUp" {
			return s.HistoryUp()
		}
		return s.HistoryDown()
	case shared.RequestEditor:
		if req.Confirm {
			return s.SaveEdit(req.EditorData)
		}
		return s.CancelEdit()
	case shared.RequestConfirm:
		return s.ConfirmClear(req.Confirm)
	case shared.RequestImport:
		switch {
		case req.Cancelled:
			return s.CancelImport()
		case req.Error:
			return s.ImportFailed(req.FileName)
		default:
			return s.ImportFile(req.FileName, req.Content)
		}
	case shared.RequestSettings:
		return s.ApplySetting(req.Setting, req.Value)
	case shared.RequestBulkExport:
		return s.ExportFilesystem()
	case shared.RequestBulkImport:
		return s.ImportFilesystem([]byte(req.Content))
	}
	return nil
}

// writePump writes queued frames and pings the browser.
func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.handler.cleanupClient(c)
	}()
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug(logger.AreaWebSocket, "Write to client %s failed: %v", c.ipAddress, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug(logger.AreaWebSocket, "Failed to send ping to client %s: %v", c.ipAddress, err)
				return
			}
		case <-c.shutdown:
			return
		}
	}
}
