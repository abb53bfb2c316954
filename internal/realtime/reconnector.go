// Package realtime consumes the best-effort push channel. It carries no
// data of record: recognized frames only translate into refresh hints so
// the normal fetch path runs sooner. Losing the channel costs latency,
// never correctness.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectDelay = 3 * time.Second
	pingInterval   = 30 * time.Second
	maxFrameSize   = 512 * 1024
)

// Resource names match the scheduler's poller names.
const (
	ResourceConversations = "conversations"
	ResourceMessages      = "messages"
)

// Hint asks the scheduler to refresh a resource sooner.
type Hint struct {
	Resource       string
	ConversationID string
}

type frame struct {
	Event   string `json:"event"`
	Payload struct {
		ConversationID string `json:"conversationId"`
	} `json:"payload"`
}

// Reconnector holds exactly one logical websocket connection, reconnecting
// after a fixed delay for as long as the engine is alive.
type Reconnector struct {
	url        string
	token      func() string
	onHint     func(Hint)
	log        zerolog.Logger
	retryDelay time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

func NewReconnector(url string, token func() string, onHint func(Hint), log zerolog.Logger) *Reconnector {
	if token == nil {
		token = func() string { return "" }
	}
	return &Reconnector{
		url:        url,
		token:      token,
		onHint:     onHint,
		log:        log.With().Str("component", "realtime").Logger(),
		retryDelay: reconnectDelay,
		done:       make(chan struct{}),
	}
}

// Start launches the connect/read/reconnect loop.
func (r *Reconnector) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reconnector) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		default:
		}

		conn, err := r.dial()
		if err != nil {
			r.log.Debug().Err(err).Msg("realtime dial failed, retrying")
			incDialFailure()
			if !r.sleep(r.retryDelay) {
				return
			}
			continue
		}

		if !r.setConn(conn) {
			conn.Close()
			return
		}
		r.log.Info().Msg("realtime channel connected")
		incConnect()

		r.readLoop(conn)
		r.setConn(nil)

		select {
		case <-r.done:
			return
		default:
			r.log.Debug().Msg("realtime channel lost, reconnecting")
			if !r.sleep(r.retryDelay) {
				return
			}
		}
	}
}

func (r *Reconnector) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if tok := r.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(r.url, header)
	return conn, err
}

// setConn swaps the held connection; returns false when the reconnector is
// already closed, in which case the caller must not keep the connection.
func (r *Reconnector) setConn(conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conn = conn
	return true
}

func (r *Reconnector) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)

	stopPing := make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-r.done:
				return
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer close(stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				switch closeErr.Code {
				case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
					return
				}
			}
			r.log.Debug().Err(err).Msg("realtime read failed")
			return
		}
		r.handleFrame(data)
	}
}

// handleFrame parses a frame defensively. Anything malformed or of an
// unknown event kind is dropped silently; the push channel is never allowed
// to take the engine down.
func (r *Reconnector) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		incFrameDropped()
		return
	}

	switch f.Event {
	case "message.updated":
		r.emit(Hint{Resource: ResourceMessages, ConversationID: f.Payload.ConversationID})
	case "ticket.updated":
		r.emit(Hint{Resource: ResourceConversations, ConversationID: f.Payload.ConversationID})
	default:
		incFrameDropped()
	}
}

func (r *Reconnector) emit(hint Hint) {
	incHintEmitted()
	if r.onHint != nil {
		r.onHint(hint)
	}
}

// Close tears down the socket and cancels any pending reconnect delay.
// Idempotent.
func (r *Reconnector) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	close(r.done)
	r.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	r.wg.Wait()
}

// sleep waits for d unless the reconnector is closed first.
func (r *Reconnector) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.done:
		return false
	case <-timer.C:
		return true
	}
}
