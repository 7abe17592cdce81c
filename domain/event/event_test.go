package event

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func serializers() map[string]Serializer {
	return map[string]Serializer{
		"binary": BinarySerializer{},
		"proto":  ProtoSerializer{},
	}
}

func TestSerializers(t *testing.T) {
	now := time.Now().UnixNano()
	cases := []Envelope{
		{Seq: 1, Time: now, Topic: "orders", Payload: []byte("hello")},
		{Seq: 42, Time: now, Topic: "", Payload: []byte{0, 1, 2}},
		{Seq: 7, Time: now, Topic: "empty-payload"},
	}

	for name, ser := range serializers() {
		t.Run(name, func(t *testing.T) {
			for _, want := range cases {
				data, err := ser.Encode(&want)
				require.NoError(t, err)

				got, err := ser.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, want.Seq, got.Seq)
				assert.Equal(t, want.Time, got.Time)
				assert.Equal(t, want.Topic, got.Topic)
				assert.Equal(t, len(want.Payload), len(got.Payload))
				if len(want.Payload) > 0 {
					assert.Equal(t, want.Payload, got.Payload)
				}
			}
		})
	}
}

func TestSerializersDetectCorruption(t *testing.T) {
	env := &Envelope{Seq: 9, Time: 1, Topic: "t", Payload: []byte("valid-record")}
	for name, ser := range serializers() {
		t.Run(name, func(t *testing.T) {
			data, err := ser.Encode(env)
			require.NoError(t, err)

			flipped := append([]byte(nil), data...)
			flipped[len(flipped)-1] ^= 0xFF
			_, err = ser.Decode(flipped)
			assert.ErrorIs(t, err, ErrCorruptEnvelope)

			_, err = ser.Decode(data[:len(data)-2])
			assert.ErrorIs(t, err, ErrCorruptEnvelope)

			_, err = ser.Decode(data[:4])
			assert.ErrorIs(t, err, ErrCorruptEnvelope)
		})
	}
}

func TestDecodedPayloadDoesNotAliasInput(t *testing.T) {
	env := &Envelope{Seq: 1, Payload: []byte("abc")}
	for name, ser := range serializers() {
		t.Run(name, func(t *testing.T) {
			data, err := ser.Encode(env)
			require.NoError(t, err)
			got, err := ser.Decode(data)
			require.NoError(t, err)
			data[len(data)-1] = 'z'
			assert.Equal(t, []byte("abc"), got.Payload)
		})
	}
}

func TestBinaryTopicTooLong(t *testing.T) {
	_, err := BinarySerializer{}.Encode(&Envelope{Topic: strings.Repeat("x", 1<<16)})
	assert.ErrorIs(t, err, ErrTopicTooLong)
}

func TestProtoSkipsUnknownFields(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, fieldSeq, protowire.VarintType)
	body = protowire.AppendVarint(body, 5)
	body = protowire.AppendTag(body, 15, protowire.BytesType)
	body = protowire.AppendString(body, "future")
	body = protowire.AppendTag(body, fieldTopic, protowire.BytesType)
	body = protowire.AppendString(body, "t")

	data := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(data[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(data[4:], crc32.ChecksumIEEE(body))
	data = append(data, body...)

	got, err := ProtoSerializer{}.Decode(data)
	require.NoError(t, err)
	assert.EqualValues(t, 5, got.Seq)
	assert.Equal(t, "t", got.Topic)
}

func TestTimestamp(t *testing.T) {
	now := time.Unix(0, time.Now().UnixNano())
	env := Envelope{Time: now.UnixNano()}
	assert.True(t, now.Equal(env.Timestamp()))
}

func TestFrameHeaderIsLittleEndian(t *testing.T) {
	for name, s := range serializers() {
		t.Run(name, func(t *testing.T) {
			data, err := s.Encode(&Envelope{Seq: 1, Topic: "t", Payload: []byte("p")})
			require.NoError(t, err)
			body := data[headerSize:]
			assert.Equal(t, uint32(len(body)), binary.LittleEndian.Uint32(data[:4]))
			assert.Equal(t, crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(data[4:8]))
		})
	}
}
