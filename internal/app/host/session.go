/*
Package host implements the asynchronous request/response channel to the host process.

This file defines the Session struct, representing the gate's WebSocket connection
to the host. It manages the connection lifecycle, the message communication loops
(ReadPump and WritePump), serial delivery of inbound events to the gate, and the
correlated command round-trips (upload, send) with bounded waits.
*/
package host

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sogsgate/internal/pkg/errs"
	"sogsgate/internal/pkg/logx"
	"sogsgate/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the host.
	pongWait = 60 * time.Second

	// frequency at which the gate sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of an inbound frame.
	maxFrameSize = 65536

	// eventChannelBuffer sizes the queue between the read pump and the dispatcher.
	eventChannelBuffer = 256

	// DefaultRoundTripTimeout bounds correlated command round-trips whose
	// context carries no deadline of its own.
	DefaultRoundTripTimeout = 15 * time.Second
)

// Handler consumes inbound host events. Events are delivered one at a time from
// a single dispatch goroutine; HandleEvent must not block on host round-trips.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// Session represents the active WebSocket connection to the host process.
type Session struct {
	// underlying WebSocket connection object.
	conn *websocket.Conn

	// handler receives inbound events, serially.
	handler Handler

	// pending holds the waiters for outstanding correlated round-trips.
	pending *pendingTable

	// a buffered channel used to queue outbound frames waiting to be written.
	send chan []byte

	// events queues inbound events between the read pump and the dispatcher.
	events chan Event

	// closed is closed once the session shuts down; it fails outstanding waits.
	closed    chan struct{}
	closeOnce sync.Once

	// wg tracks the pump and dispatcher goroutines.
	wg sync.WaitGroup

	// structured logger with session context.
	logger zerolog.Logger
}

// Dial connects to the host at the given WebSocket URL and returns a Session.
// The pumps are not started until Start is called, so the session can first be
// handed to the gate as its command channel.
func Dial(ctx context.Context, url string) (*Session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &Session{
		conn:    conn,
		pending: newPendingTable(),
		send:    make(chan []byte, 256),
		events:  make(chan Event, eventChannelBuffer),
		closed:  make(chan struct{}),
		logger:  logx.Component("HostSession"),
	}, nil
}

// Start launches the read pump, write pump, and event dispatcher, delivering
// inbound events to the given handler.
func (s *Session) Start(ctx context.Context, handler Handler) {
	s.handler = handler
	s.wg.Add(3)
	go s.readPump()
	go s.writePump()
	go s.dispatch(ctx)
}

// Close terminates the session: it closes the connection, fails all outstanding
// round-trip waits, and waits for the pumps to exit.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
	s.wg.Wait()
}

// Done returns a channel closed when the session has shut down, typically
// because the host closed the connection.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// readPump reads frames from the host connection. Correlated results complete
// their waiters directly so they are never stuck behind event handling; all
// other events are queued for the serial dispatcher.
func (s *Session) readPump() {
	defer s.wg.Done()
	defer s.closeFromPump()
	defer close(s.events)

	s.conn.SetReadLimit(maxFrameSize)

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frameBytes, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("Error reading frame (host close/going away)")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(frameBytes, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("Discarding malformed inbound frame")
			continue
		}

		switch ev.Type {
		case EventUploadResult:
			if !s.pending.complete(ev.CorrelationToken, ev.FileID) {
				s.logger.Warn().Str("correlation_token", ev.CorrelationToken).Msg("Upload result with no outstanding waiter")
			}
		case EventSendResult:
			if !s.pending.complete(ev.CorrelationToken, ev.MessageID) {
				s.logger.Warn().Str("correlation_token", ev.CorrelationToken).Msg("Send result with no outstanding waiter")
			}
		default:
			select {
			case s.events <- ev:
			case <-s.closed:
				return
			}
		}
	}
}

// writePump writes queued frames to the host connection and sends pings on a ticker.
func (s *Session) writePump() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.closeFromPump()

	for {
		select {
		case frame, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}

			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Info().Err(err).Msg("Error writing frame, closing session")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.closed:
			return
		}
	}
}

// dispatch delivers queued events to the handler, one at a time.
func (s *Session) dispatch(ctx context.Context) {
	defer s.wg.Done()

	for ev := range s.events {
		s.handler.HandleEvent(ctx, ev)
	}
}

// closeFromPump closes the session from inside a pump goroutine without waiting,
// so either pump failing tears the whole session down.
func (s *Session) closeFromPump() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// enqueue marshals a frame and queues it for the write pump.
func (s *Session) enqueue(frame any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case s.send <- raw:
		return nil
	case <-s.closed:
		return errs.NewError(errs.ErrHostDisconnected)
	}
}

// await blocks until the waiter receives a correlated result, the context
// expires, or the session closes. On timeout the waiter is dropped so a late
// response cannot complete a request nobody is waiting on.
func (s *Session) await(ctx context.Context, token string, ch chan int64) (int64, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRoundTripTimeout)
		defer cancel()
	}

	select {
	case value := <-ch:
		return value, nil
	case <-ctx.Done():
		s.pending.drop(token)
		return 0, errs.NewError(errs.ErrRoundTripTimeout)
	case <-s.closed:
		s.pending.drop(token)
		return 0, errs.NewError(errs.ErrHostDisconnected)
	}
}

// SetRoomModerator asks the host to grant the given handle moderator rights.
// Fire-and-forget: the host sends no correlated response.
func (s *Session) SetRoomModerator(ctx context.Context, roomToken, user string, visible bool) error {
	return s.enqueue(setRoomModeratorFrame{
		Method:  MethodSetRoomModerator,
		Room:    roomToken,
		User:    user,
		Visible: visible,
	})
}

// SendMessage sends a signed message and awaits the host-assigned message id.
func (s *Session) SendMessage(ctx context.Context, msg SendMessage) (int64, error) {
	token := randx.CorrelationToken()
	ch := s.pending.add(token)

	err := s.enqueue(sendMessageFrame{
		Method:           MethodSendMessage,
		Room:             msg.RoomID,
		User:             msg.Sender,
		Data:             msg.Data,
		Signature:        msg.Signature,
		WhisperTo:        msg.WhisperTo,
		AttachmentID:     msg.AttachmentID,
		CorrelationToken: token,
	})
	if err != nil {
		s.pending.drop(token)
		return 0, err
	}

	return s.await(ctx, token, ch)
}

// UploadFile uploads raw bytes through the host and awaits the assigned file id.
// Exactly one upload command is issued per call.
func (s *Session) UploadFile(ctx context.Context, roomToken, uploader string, data []byte) (int64, error) {
	token := randx.CorrelationToken()
	ch := s.pending.add(token)

	err := s.enqueue(uploadFileFrame{
		Method:           MethodUploadFile,
		Room:             roomToken,
		Uploader:         uploader,
		Bytes:            base64.StdEncoding.EncodeToString(data),
		CorrelationToken: token,
	})
	if err != nil {
		s.pending.drop(token)
		return 0, err
	}

	return s.await(ctx, token, ch)
}

// DeleteMessage asks the host to retract a previously sent message.
func (s *Session) DeleteMessage(ctx context.Context, roomToken, user string, messageID int64) error {
	return s.enqueue(deleteMessageFrame{
		Method:    MethodDeleteMessage,
		Room:      roomToken,
		User:      user,
		MessageID: messageID,
	})
}

// Reply answers a beforePost event. The host blocks the post until it arrives.
func (s *Session) Reply(replyToken, action string) error {
	return s.enqueue(replyFrame{
		Ok:         true,
		Action:     action,
		ReplyToken: replyToken,
	})
}
