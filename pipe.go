package xpc

import "context"

// PipeSend encodes v and writes it to p over t as a single framed
// datagram carrying sequenceID, attaching resources out-of-band. It is
// stateless: callers needing ordered delivery or request/reply
// correlation track sequence ids themselves (see Connection).
func PipeSend(ctx context.Context, t Transport, p Port, sequenceID uint64, v *Value, resources []Resource) error {
	payload, err := Encode(v)
	if err != nil {
		return err
	}
	frame := Frame{ProtocolVersion: protocolVersion, SequenceID: sequenceID, PayloadLength: uint64(len(payload))}
	buf := frame.MarshalHeader(payload)
	return t.Send(ctx, p, buf, resources)
}

// PipeRecv blocks for the next framed datagram addressed to p,
// decodes its payload, and returns the Value, the frame's sequence id,
// any attached resources, and the sender's credentials.
func PipeRecv(ctx context.Context, t Transport, p Port, cfg Config) (v *Value, sequenceID uint64, resources []Resource, creds Credentials, err error) {
	buf, resources, creds, err := t.Recv(ctx, p)
	if err != nil {
		return nil, 0, nil, Credentials{}, err
	}
	frame, payload, err := ParseFrame(buf)
	if err != nil {
		return nil, 0, nil, Credentials{}, err
	}
	v, err = Decode(payload, cfg)
	if err != nil {
		return nil, 0, nil, Credentials{}, err
	}
	return v, frame.SequenceID, resources, creds, nil
}
