package event

import "google.golang.org/protobuf/encoding/protowire"

// protobuf field numbers, compatible with
//
//	message Envelope {
//	  uint64 seq = 1;
//	  int64  time = 2;
//	  string topic = 3;
//	  bytes  payload = 4;
//	}
const (
	fieldSeq     protowire.Number = 1
	fieldTime    protowire.Number = 2
	fieldTopic   protowire.Number = 3
	fieldPayload protowire.Number = 4
)

// ProtoSerializer implements Serializer using the protobuf wire format.
type ProtoSerializer struct{}

func (ProtoSerializer) Encode(env *Envelope) ([]byte, error) {
	body := make([]byte, 0, 32+len(env.Topic)+len(env.Payload))
	if env.Seq != 0 {
		body = protowire.AppendTag(body, fieldSeq, protowire.VarintType)
		body = protowire.AppendVarint(body, env.Seq)
	}
	if env.Time != 0 {
		body = protowire.AppendTag(body, fieldTime, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(env.Time))
	}
	if env.Topic != "" {
		body = protowire.AppendTag(body, fieldTopic, protowire.BytesType)
		body = protowire.AppendString(body, env.Topic)
	}
	if len(env.Payload) > 0 {
		body = protowire.AppendTag(body, fieldPayload, protowire.BytesType)
		body = protowire.AppendBytes(body, env.Payload)
	}

	return frame(body), nil
}

func (ProtoSerializer) Decode(data []byte) (*Envelope, error) {
	body, err := checkFrame(data)
	if err != nil {
		return nil, err
	}
	env := &Envelope{}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, ErrCorruptEnvelope
		}
		body = body[n:]

		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, ErrCorruptEnvelope
			}
			env.Seq = v
			body = body[n:]
		case num == fieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, ErrCorruptEnvelope
			}
			env.Time = int64(v)
			body = body[n:]
		case num == fieldTopic && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, ErrCorruptEnvelope
			}
			env.Topic = v
			body = body[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, ErrCorruptEnvelope
			}
			env.Payload = append([]byte(nil), v...)
			body = body[n:]
		default:
			// unknown fields are skipped for forward compatibility
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, ErrCorruptEnvelope
			}
			body = body[n:]
		}
	}
	return env, nil
}
