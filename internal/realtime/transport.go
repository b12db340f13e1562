package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/googollee/go-socket.io/parser"
)

var (
	// ErrServerDisconnect is returned by ReadEvent when the server closes the namespace
	ErrServerDisconnect = errors.New("server closed the connection")

	errNoConnectPacket = errors.New("server did not acknowledge the connection")
)

// Dialer opens authenticated connections to the push-event server
type Dialer interface {
	Dial(token string) (Conn, error)
}

// Conn is one live connection to the push-event server.
// Emit may be called concurrently with ReadEvent.
type Conn interface {
	Emit(event string, args ...interface{}) error
	ReadEvent() (event string, payload json.RawMessage, err error)
	Close() error
}

// SocketIODialer dials a Socket.IO server (e.g. "http://host:8080/socket.io/")
type SocketIODialer struct {
	URL              string
	HandshakeTimeout time.Duration
	// UsePolling falls back to HTTP long-polling when websocket is unavailable
	UsePolling bool
}

// Dial connects and waits for the server's namespace CONNECT packet
func (d *SocketIODialer) Dial(token string) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	// engineio.Dialer tries transports from last to first
	transports := []transport.Transport{
		&websocket.Transport{HandshakeTimeout: d.HandshakeTimeout},
	}
	if d.UsePolling {
		transports = append(transports, polling.Default)
	}

	dialer := engineio.Dialer{Transports: transports}
	eio, err := dialer.Dial(d.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}

	c := &socketConn{
		eio:     eio,
		encoder: parser.NewEncoder(eio),
		decoder: parser.NewDecoder(eio),
	}

	if err := c.awaitConnect(); err != nil {
		_ = eio.Close()
		return nil, err
	}

	return c, nil
}

var rawMessageType = reflect.TypeOf(json.RawMessage{})

type socketConn struct {
	eio     engineio.Conn
	encoder *parser.Encoder
	decoder *parser.Decoder

	writeMu sync.Mutex
}

func (c *socketConn) awaitConnect() error {
	var header parser.Header
	var event string
	if err := c.decoder.DecodeHeader(&header, &event); err != nil {
		return fmt.Errorf("failed to read connect packet: %w", err)
	}
	_ = c.decoder.DiscardLast()

	if header.Type != parser.Connect {
		return errNoConnectPacket
	}
	return nil
}

func (c *socketConn) Emit(event string, args ...interface{}) error {
	data := make([]interface{}, 0, len(args)+1)
	data = append(data, event)
	data = append(data, args...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.encoder.Encode(parser.Header{Type: parser.Event}, data); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

func (c *socketConn) ReadEvent() (string, json.RawMessage, error) {
	for {
		var header parser.Header
		var event string

		if err := c.decoder.DecodeHeader(&header, &event); err != nil {
			return "", nil, err
		}

		switch header.Type {
		case parser.Event:
			args, err := c.decoder.DecodeArgs([]reflect.Type{rawMessageType})
			if err != nil {
				// The frame is already discarded; hand the event over without a payload.
				return event, nil, nil
			}
			var payload json.RawMessage
			if len(args) > 0 {
				payload, _ = args[0].Interface().(json.RawMessage)
			}
			return event, payload, nil

		case parser.Disconnect:
			_ = c.decoder.DiscardLast()
			return "", nil, ErrServerDisconnect

		default:
			// CONNECT re-acks, ACKs and ERROR packets carry nothing for subscribers
			_ = c.decoder.DiscardLast()
		}
	}
}

func (c *socketConn) Close() error {
	return c.eio.Close()
}
