// Package protocol implements the binary websocket framing spoken by the
// translation service: a 4-byte header followed by optional sequence, event,
// and session-id fields, then a length-prefixed payload.
package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

type MessageType byte

type Flags byte

type SerializationType byte

type CompressionType byte

const (
	protocolVersion byte = 0b0001
	headerSizeWords byte = 1 // header length in 4-byte units

	MsgTypeFullClient      MessageType = 0b0001
	MsgTypeAudioOnlyClient MessageType = 0b0010
	MsgTypeFullServer      MessageType = 0b1001
	MsgTypeAudioOnlyServer MessageType = 0b1011
	MsgTypeError           MessageType = 0b1111

	FlagNoSequence  Flags = 0b0000
	FlagPosSequence Flags = 0b0001
	FlagNegSequence Flags = 0b0010
	FlagWithEvent   Flags = 0b0100

	SerializationNone SerializationType = 0b0000
	SerializationJSON SerializationType = 0b0001

	CompressionNone CompressionType = 0b0000
	CompressionGzip CompressionType = 0b0001
)

// Message is one decoded protocol frame.
type Message struct {
	Type      MessageType
	Flags     Flags
	Event     Event
	SessionID string
	ConnectID string
	Sequence  int32
	ErrorCode uint32
	Payload   []byte
}

// IsAudio reports whether the frame carries a raw audio payload.
func (m *Message) IsAudio() bool {
	return m.Type == MsgTypeAudioOnlyServer || m.Type == MsgTypeAudioOnlyClient
}

// IsError reports whether the frame is a service error frame.
func (m *Message) IsError() bool {
	return m.Type == MsgTypeError
}

// Codec marshals and unmarshals protocol frames with fixed serialization
// and compression settings.
type Codec struct {
	serialization SerializationType
	compression   CompressionType
}

// NewCodec returns a codec with JSON serialization and no compression.
func NewCodec() *Codec {
	return &Codec{serialization: SerializationJSON, compression: CompressionNone}
}

// SetCompression switches payload compression for frames marshaled by this codec.
func (c *Codec) SetCompression(compression CompressionType) {
	c.compression = compression
}

// Marshal encodes one frame into wire bytes.
func (c *Codec) Marshal(msg *Message) ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.WriteByte(protocolVersion<<4 | headerSizeWords)
	buf.WriteByte(byte(msg.Type)<<4 | byte(msg.Flags))
	buf.WriteByte(byte(c.serialization)<<4 | byte(c.compression))
	buf.WriteByte(0x00) // reserved

	if msg.Flags&FlagPosSequence != 0 || msg.Flags&FlagNegSequence != 0 {
		if err := binary.Write(buf, binary.BigEndian, msg.Sequence); err != nil {
			return nil, fmt.Errorf("write sequence: %w", err)
		}
	}

	if msg.Flags&FlagWithEvent != 0 {
		if err := binary.Write(buf, binary.BigEndian, int32(msg.Event)); err != nil {
			return nil, fmt.Errorf("write event: %w", err)
		}
		if !msg.Event.IsConnectionLevel() {
			if err := binary.Write(buf, binary.BigEndian, uint32(len(msg.SessionID))); err != nil {
				return nil, fmt.Errorf("write session id length: %w", err)
			}
			buf.WriteString(msg.SessionID)
		}
	}

	payload := msg.Payload
	if c.compression == CompressionGzip && len(payload) > 0 {
		compressed, err := gzipCompress(payload)
		if err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		payload = compressed
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(len(payload))); err != nil {
		return nil, fmt.Errorf("write payload size: %w", err)
	}
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Unmarshal decodes one frame from wire bytes.
func (c *Codec) Unmarshal(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	buf := bytes.NewBuffer(data)

	versionAndSize, _ := buf.ReadByte()
	typeAndFlags, _ := buf.ReadByte()
	serAndComp, _ := buf.ReadByte()
	_, _ = buf.ReadByte() // reserved

	msg := &Message{
		Type:  MessageType(typeAndFlags >> 4),
		Flags: Flags(typeAndFlags & 0x0f),
	}
	compression := CompressionType(serAndComp & 0x0f)

	// Header size is expressed in 4-byte units; skip any extension bytes.
	headerSize := int(versionAndSize & 0x0f)
	if headerSize > 1 {
		buf.Next((headerSize - 1) * 4)
	}

	if msg.Flags&FlagPosSequence != 0 || msg.Flags&FlagNegSequence != 0 {
		if err := binary.Read(buf, binary.BigEndian, &msg.Sequence); err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
	}

	if msg.Flags&FlagWithEvent != 0 {
		var event int32
		if err := binary.Read(buf, binary.BigEndian, &event); err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		msg.Event = Event(event)

		if !msg.Event.IsConnectionLevel() {
			sessionID, err := readLengthPrefixed(buf, "session id")
			if err != nil {
				return nil, err
			}
			msg.SessionID = sessionID
		} else if msg.Event != EventStartConnection && msg.Event != EventFinishConnection {
			connectID, err := readLengthPrefixed(buf, "connect id")
			if err != nil {
				return nil, err
			}
			msg.ConnectID = connectID
		}
	}

	if msg.Type == MsgTypeError {
		if err := binary.Read(buf, binary.BigEndian, &msg.ErrorCode); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}

	var payloadSize uint32
	if err := binary.Read(buf, binary.BigEndian, &payloadSize); err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if payloadSize > 0 {
		if int(payloadSize) > buf.Len() {
			return nil, fmt.Errorf("payload size %d exceeds remaining frame bytes %d", payloadSize, buf.Len())
		}
		msg.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(buf, msg.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		if compression == CompressionGzip {
			decompressed, err := gzipDecompress(msg.Payload)
			if err != nil {
				return nil, fmt.Errorf("gzip decompress: %w", err)
			}
			msg.Payload = decompressed
		}
	}

	return msg, nil
}

// readLengthPrefixed reads a uint32 length followed by that many bytes.
func readLengthPrefixed(buf *bytes.Buffer, field string) (string, error) {
	var length uint32
	if err := binary.Read(buf, binary.BigEndian, &length); err != nil {
		return "", fmt.Errorf("read %s length: %w", field, err)
	}
	if length == 0 {
		return "", nil
	}
	if int(length) > buf.Len() {
		return "", fmt.Errorf("%s length %d exceeds remaining frame bytes %d", field, length, buf.Len())
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(buf, raw); err != nil {
		return "", fmt.Errorf("read %s: %w", field, err)
	}
	return string(raw), nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
