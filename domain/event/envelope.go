// Package event defines the envelope carried through the broadcast hub and
// the codecs used to put it on the wire, in the outbox and on Kafka.
package event

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"time"
)

// Envelope is one published message.
type Envelope struct {
	Seq     uint64
	Time    int64 // unix nanoseconds at publish
	Topic   string
	Payload []byte
}

// Timestamp returns the publish time.
func (e Envelope) Timestamp() time.Time {
	return time.Unix(0, e.Time)
}

// Serializer defines how an Envelope is serialized/deserialized.
type Serializer interface {
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

var (
	ErrCorruptEnvelope = errors.New("event: corrupted envelope")
	ErrTopicTooLong    = errors.New("event: topic too long")
)

// header: [len:4][crc32:4], both little-endian, followed by the body
const headerSize = 8

// frame prefixes body with its length and checksum.
func frame(body []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(out[4:], crc32.ChecksumIEEE(body))
	return append(out, body...)
}

// checkFrame validates the header and returns the body it covers.
func checkFrame(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptEnvelope
	}
	body := data[headerSize:]
	if binary.LittleEndian.Uint32(data[:4]) != uint32(len(body)) {
		return nil, ErrCorruptEnvelope
	}
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[4:8]) {
		return nil, ErrCorruptEnvelope
	}
	return body, nil
}
