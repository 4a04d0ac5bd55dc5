package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Gateway speaks JSON frames over a single websocket to the chat service.
// Outbound frames carry a frame id; the gateway matches responses back to
// callers by that id. Frames without one are user interactions and are
// surfaced on Updates.
type Gateway struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan gatewayFrame

	updates chan Update
	done    chan struct{}
	closeMu sync.Once
}

type gatewayFrame struct {
	FrameID    string   `json:"frame_id,omitempty"`
	Op         string   `json:"op,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Text       string   `json:"text,omitempty"`
	MediaKind  string   `json:"media_kind,omitempty"`
	MediaRef   string   `json:"media_ref,omitempty"`
	Caption    string   `json:"caption,omitempty"`
	Keyboard   Keyboard `json:"keyboard,omitempty"`
	ReplyTo    string   `json:"reply_to,omitempty"`
	MessageID  string   `json:"message_id,omitempty"`
	CallbackID string   `json:"callback_id,omitempty"`
	Notice     string   `json:"notice,omitempty"`

	OK     *bool           `json:"ok,omitempty"`
	Error  string          `json:"error,omitempty"`
	Update json.RawMessage `json:"update,omitempty"`
}

// DialGateway connects to the chat gateway. The token is sent as a bearer
// header on the handshake.
func DialGateway(ctx context.Context, gatewayURL, token string) (*Gateway, error) {
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return nil, ErrInvalidInput
	}
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(ctx, gatewayURL, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayDown, err)
	}
	g := &Gateway{
		conn:    conn,
		pending: map[string]chan gatewayFrame{},
		updates: make(chan Update, 64),
		done:    make(chan struct{}),
	}
	go g.readPump()
	return g, nil
}

// Updates delivers inbound commands and callbacks. The channel closes when
// the gateway connection drops.
func (g *Gateway) Updates() <-chan Update {
	return g.updates
}

// Close shuts the connection down once; later calls are no-ops.
func (g *Gateway) Close() error {
	var err error
	g.closeMu.Do(func() {
		close(g.done)
		err = g.conn.Close(websocket.StatusNormalClosure, "shutting down")
	})
	return err
}

func (g *Gateway) readPump() {
	defer close(g.updates)
	for {
		var frame gatewayFrame
		if err := wsjson.Read(context.Background(), g.conn, &frame); err != nil {
			select {
			case <-g.done:
			default:
			}
			g.failPending()
			return
		}
		if frame.FrameID != "" {
			g.pendingMu.Lock()
			ch, ok := g.pending[frame.FrameID]
			if ok {
				delete(g.pending, frame.FrameID)
			}
			g.pendingMu.Unlock()
			if ok {
				ch <- frame
			}
			continue
		}
		if frame.Op == "update" && len(frame.Update) > 0 {
			var update Update
			if err := json.Unmarshal(frame.Update, &update); err != nil {
				continue
			}
			select {
			case g.updates <- update:
			default:
				// Slow consumer: drop rather than block the pump.
			}
		}
	}
}

func (g *Gateway) failPending() {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
}

func (g *Gateway) call(ctx context.Context, frame gatewayFrame) (gatewayFrame, error) {
	frame.FrameID = uuid.NewString()
	reply := make(chan gatewayFrame, 1)
	g.pendingMu.Lock()
	g.pending[frame.FrameID] = reply
	g.pendingMu.Unlock()

	g.writeMu.Lock()
	err := wsjson.Write(ctx, g.conn, frame)
	g.writeMu.Unlock()
	if err != nil {
		g.pendingMu.Lock()
		delete(g.pending, frame.FrameID)
		g.pendingMu.Unlock()
		return gatewayFrame{}, fmt.Errorf("%w: %v", ErrGatewayDown, err)
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return gatewayFrame{}, ErrGatewayDown
		}
		if resp.OK != nil && !*resp.OK {
			return resp, fmt.Errorf("%w: %s", ErrSendRejected, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		g.pendingMu.Lock()
		delete(g.pending, frame.FrameID)
		g.pendingMu.Unlock()
		return gatewayFrame{}, ctx.Err()
	}
}

func (g *Gateway) SendMessage(ctx context.Context, sessionID, text string, kb Keyboard) (MessageRef, error) {
	resp, err := g.call(ctx, gatewayFrame{
		Op:        "send_message",
		SessionID: sessionID,
		Text:      text,
		Keyboard:  kb,
	})
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{SessionID: sessionID, MessageID: resp.MessageID}, nil
}

func (g *Gateway) SendMedia(ctx context.Context, sessionID, mediaKind, mediaRef, caption string, kb Keyboard, replyTo string) (MessageRef, error) {
	resp, err := g.call(ctx, gatewayFrame{
		Op:        "send_media",
		SessionID: sessionID,
		MediaKind: mediaKind,
		MediaRef:  mediaRef,
		Caption:   caption,
		Keyboard:  kb,
		ReplyTo:   replyTo,
	})
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{SessionID: sessionID, MessageID: resp.MessageID}, nil
}

func (g *Gateway) EditMessage(ctx context.Context, ref MessageRef, text string, kb Keyboard) error {
	_, err := g.call(ctx, gatewayFrame{
		Op:        "edit_message",
		SessionID: ref.SessionID,
		MessageID: ref.MessageID,
		Text:      text,
		Keyboard:  kb,
	})
	return err
}

func (g *Gateway) DeleteMessage(ctx context.Context, ref MessageRef) error {
	_, err := g.call(ctx, gatewayFrame{
		Op:        "delete_message",
		SessionID: ref.SessionID,
		MessageID: ref.MessageID,
	})
	return err
}

func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, notice string) error {
	_, err := g.call(ctx, gatewayFrame{
		Op:         "answer_callback",
		CallbackID: callbackID,
		Notice:     notice,
	})
	return err
}
