package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/campus-events/internal/broadcast"
)

// Frame types exchanged on the notification stream.
const (
	frameSubscribe    = "subscribe"
	frameUnsubscribe  = "unsubscribe"
	framePing         = "ping"
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameNotification = "notification"
	frameResync       = "resync"
	frameError        = "error"
	framePong         = "pong"
)

const (
	wsWriteTimeout         = 10 * time.Second
	maxDecodeErrorsPerConn = 5
)

type wsFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsPeer serializes writes from the reader and writer goroutines.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return websocket.JSON.Send(p.conn, frame)
}

func (p *wsPeer) writeError(topic, code, message string) error {
	return p.writeFrame(wsFrame{Type: frameError, Topic: topic, Payload: wsError{Code: code, Message: message}})
}

// Stream handles GET /ws
// The connection starts subscribed to the caller's role, participant and
// department topics and may then add or drop event topics.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	websocket.Handler(func(conn *websocket.Conn) {
		defer func() { _ = conn.Close() }()
		// Clear deadlines inherited from the server's read and write timeouts.
		_ = conn.SetDeadline(time.Time{})

		sub := h.Hub.Subscribe(broadcast.IdentityTopics(id)...)
		defer sub.Close()

		peer := &wsPeer{conn: conn}
		if err := peer.writeFrame(wsFrame{Type: frameSubscribed, Payload: sub.Topics()}); err != nil {
			return
		}
		h.logger.Debug("stream connected", "participant_id", id.ParticipantID, "role", id.Role)

		var g errgroup.Group
		g.Go(func() error { return h.pump(peer, sub) })
		g.Go(func() error {
			select {
			case <-r.Context().Done():
				sub.Close()
				_ = conn.Close()
			case <-sub.Done():
			}
			return nil
		})

		h.readFrames(conn, peer, sub)
		sub.Close()
		if err := g.Wait(); err != nil {
			h.logger.Debug("stream write failed", "participant_id", id.ParticipantID, "error", err)
		}
		h.logger.Debug("stream closed", "participant_id", id.ParticipantID)
	}).ServeHTTP(w, r)
}

// pump forwards notifications until the subscription closes. A resync frame
// follows any notification sent after the subscriber missed messages.
func (h *Handler) pump(peer *wsPeer, sub *broadcast.Subscription) error {
	for n := range sub.C() {
		err := peer.writeFrame(wsFrame{Type: frameNotification, Topic: n.Topic, Payload: n})
		if err == nil && sub.TakeResync() {
			err = peer.writeFrame(wsFrame{Type: frameResync})
		}
		if err != nil {
			// Unblocks the reader.
			sub.Close()
			_ = peer.conn.Close()
			return err
		}
	}
	return nil
}

func (h *Handler) readFrames(conn *websocket.Conn, peer *wsPeer, sub *broadcast.Subscription) {
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			select {
			case <-sub.Done():
				return
			default:
			}
			decodeErrors++
			if peer.writeError("", "invalid_frame", "invalid frame payload") != nil || decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		topic := strings.TrimSpace(frame.Topic)
		switch frame.Type {
		case frameSubscribe, frameUnsubscribe:
			if !broadcast.Subscribable(topic) {
				_ = peer.writeError(topic, "invalid_topic", "only event topics can be changed")
				continue
			}
			ack := frameSubscribed
			if frame.Type == frameSubscribe {
				sub.Add(topic)
			} else {
				sub.Remove(topic)
				ack = frameUnsubscribed
			}
			_ = peer.writeFrame(wsFrame{Type: ack, Topic: topic, Payload: sub.Topics()})
		case framePing:
			_ = peer.writeFrame(wsFrame{Type: framePong})
		default:
			_ = peer.writeError(topic, "unsupported_frame", "unsupported frame type")
		}
	}
}
