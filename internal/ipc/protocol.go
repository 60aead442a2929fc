// Package ipc is the control socket between a running keydance daemon and
// the CLI.
//
// Every message is a fixed 16-byte header followed by a JSON payload. The
// client sends one request and waits for the reply carrying the same
// request ID.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4B444E43 // "KDNC"

	// MaxPayload bounds a single message body.
	MaxPayload = 1 << 20
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	MsgPing  MessageType = 0x0001
	MsgPong  MessageType = 0x0002
	MsgError MessageType = 0x0005

	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	MsgSetMode     MessageType = 0x0200
	MsgSetModeResp MessageType = 0x0201

	MsgReleaseAll     MessageType = 0x0300
	MsgReleaseAllResp MessageType = 0x0301
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgError:
		return "error"
	case MsgStatusRequest:
		return "status"
	case MsgStatusResponse:
		return "status_resp"
	case MsgSetMode:
		return "set_mode"
	case MsgSetModeResp:
		return "set_mode_resp"
	case MsgReleaseAll:
		return "release_all"
	case MsgReleaseAllResp:
		return "release_all_resp"
	default:
		return fmt.Sprintf("msg(0x%04x)", uint16(t))
	}
}

// Header is the fixed-size message header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32
}

const HeaderSize = 16

// Message wraps a header and payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a message with the given type and payload.
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to w.
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}
	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the whole message to w in one call.
func (m *Message) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(m.Payload))
	m.Header.Write(&buf)
	buf.Write(m.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMessage reads a complete message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Error codes carried in ErrorResponse.
const (
	ErrInvalidRequest = 400
	ErrPermission     = 403
	ErrUnknownType    = 404
	ErrInternal       = 500
)

// ErrorResponse is the payload of MsgError.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version        string        `json:"version"`
	PID            int           `json:"pid"`
	Uptime         time.Duration `json:"uptime_ns"`
	Device         string        `json:"device"`
	Mode           string        `json:"mode"`
	Secondary      string        `json:"secondary"`
	TappingTermMS  int           `json:"tapping_term_ms"`
	CompositeCount uint8         `json:"composite_count"`
	Held           []string      `json:"held,omitempty"`
	ChatterDropped uint64        `json:"chatter_dropped"`
}

// SetModeRequest asks the daemon to switch and persist the mode.
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// SetModeResponse reports the mode before and after the request.
type SetModeResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ReleaseAllResponse lists the keys that were still down.
type ReleaseAllResponse struct {
	Released []string `json:"released"`
}

// Encode encodes a payload to JSON bytes.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload.
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message.
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{Code: code, Message: message})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message.
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// AsError turns a MsgError reply into an error. Other messages yield nil.
func AsError(m *Message) error {
	if m.Header.Type != MsgError {
		return nil
	}
	var e ErrorResponse
	if err := Decode(m.Payload, &e); err != nil {
		return errors.New("daemon error (unreadable reply)")
	}
	return &e
}
