package event

import (
	"bytes"
	"encoding/binary"
	"math"
)

// BinarySerializer lays the envelope out as fixed little-endian fields:
// [seq:8][time:8][topicLen:2][topic][payload].
type BinarySerializer struct{}

func (BinarySerializer) Encode(env *Envelope) ([]byte, error) {
	if len(env.Topic) > math.MaxUint16 {
		return nil, ErrTopicTooLong
	}
	body := new(bytes.Buffer)
	_ = binary.Write(body, binary.LittleEndian, env.Seq)
	_ = binary.Write(body, binary.LittleEndian, env.Time)
	_ = binary.Write(body, binary.LittleEndian, uint16(len(env.Topic)))
	body.WriteString(env.Topic)
	body.Write(env.Payload)

	return frame(body.Bytes()), nil
}

func (BinarySerializer) Decode(data []byte) (*Envelope, error) {
	body, err := checkFrame(data)
	if err != nil {
		return nil, err
	}
	if len(body) < 18 {
		return nil, ErrCorruptEnvelope
	}
	topicLen := int(binary.LittleEndian.Uint16(body[16:18]))
	if len(body) < 18+topicLen {
		return nil, ErrCorruptEnvelope
	}
	env := &Envelope{
		Seq:   binary.LittleEndian.Uint64(body[0:8]),
		Time:  int64(binary.LittleEndian.Uint64(body[8:16])),
		Topic: string(body[18 : 18+topicLen]),
	}
	if rest := body[18+topicLen:]; len(rest) > 0 {
		env.Payload = append([]byte(nil), rest...)
	}
	return env, nil
}
