package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveboard/internal/board"
	"liveboard/internal/protocol"
	"liveboard/internal/realtime"
)

const (
	writeWait = 5 * time.Second
	readWait  = 90 * time.Second
	queueSize = 64
)

// Attacher hands out the current posts while no mutation can run.
type Attacher interface {
	Attach(fn func(posts []board.Post))
}

type Server struct {
	board Attacher
	hub   *realtime.Hub
	log   *zap.SugaredLogger

	upgrader websocket.Upgrader
}

func NewServer(b Attacher, hub *realtime.Hub, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Server{
		board: b,
		hub:   hub,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // any origin
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		synthetic, _ := strconv.ParseBool(r.URL.Query().Get(protocol.SyntheticQueryParam))

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := realtime.NewSession(synthetic, queueSize)
		s.board.Attach(func(posts []board.Post) {
			s.hub.Connect(sess, posts)
		})
		defer s.hub.Disconnect(sess.ID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Replies from the reader loop share the single writer.
		replies := make(chan []byte, 4)

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-sess.Out():
				case b = <-replies:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			env, err := protocol.Decode(msg)
			if err != nil || env.Event != protocol.EventPing {
				continue
			}
			pong, _ := protocol.Encode(protocol.EventPong, nil)
			select {
			case replies <- pong:
			default:
				// Client is pinging faster than we write.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}
