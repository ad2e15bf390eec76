package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"stepstream/stream"
)

// wsRequest is the first message a websocket client sends.
type wsRequest struct {
	Content string `json:"content"`
}

const (
	wsWriteWait     = 10 * time.Second
	wsHandshakeWait = 30 * time.Second
	// Close reasons are limited to 123 bytes by the protocol.
	maxCloseReason = 120
)

// ws streams one execution per connection: the client sends
// {"content"} and receives each fragment as a text message.
func (h *handler) ws(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.deps.Origins.CheckWebSocketOrigin(),
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsHandshakeWait))
	var req wsRequest
	_, data, err := conn.ReadMessage()
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket closed before request")
		return
	}
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		closeWith(conn, websocket.ClosePolicyViolation, `expected {"content": "..."}`)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if !h.deps.Translator.Available() {
		writeText(conn, stream.UnavailableMessage)
		closeWith(conn, websocket.CloseTryAgainLater, "Agent is not available")
		return
	}

	ctx, cancel := context.WithCancel(stream.WithTransport(r.Context(), "ws"))
	defer cancel()

	// Handle disconnection detection in a separate goroutine
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.log.Debug().Err(err).Msg("websocket client disconnected")
				cancel()
				return
			}
		}
	}()

	for frag, err := range h.deps.Translator.Execute(ctx, req.Content) {
		if err != nil {
			if errors.Is(err, stream.ErrEngineFailed) {
				closeWith(conn, websocket.CloseInternalServerErr, err.Error())
			}
			return
		}
		if err := writeText(conn, frag); err != nil {
			h.log.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
	closeWith(conn, websocket.CloseNormalClosure, "")
}

func writeText(conn *websocket.Conn, msg string) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	reason = truncateReason(reason)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
}

// truncateReason cuts reason to maxCloseReason bytes without splitting a
// rune; clients reject close frames with invalid UTF-8.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
