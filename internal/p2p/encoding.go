package p2p

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tinylib/msgp/msgp"

	"github.com/subhroacharjee/replaycast/internal/broadcaster"
)

var ErrNewlineInPayload = errors.New("p2p: line frame payload contains a newline")

// Codec frames messages on a peer connection.
type Codec interface {
	// NewDecoder returns a decoder bound to one connection. Decoders may
	// buffer, so a connection must only ever be read through one of them.
	NewDecoder(io.Reader) Decoder
	Encode(broadcaster.Message) ([]byte, error)
}

// Decoder reads one message per call. It returns io.EOF once the peer has
// closed the stream cleanly.
type Decoder interface {
	Decode(*broadcaster.Message) error
}

// LineCodec frames each payload as a single newline-terminated line.
// From is not carried on the wire.
type LineCodec struct{}

func (LineCodec) NewDecoder(r io.Reader) Decoder {
	return &lineDecoder{r: bufio.NewReader(r)}
}

func (LineCodec) Encode(msg broadcaster.Message) ([]byte, error) {
	if bytes.IndexByte(msg.Payload, '\n') >= 0 {
		return nil, ErrNewlineInPayload
	}
	out := make([]byte, 0, len(msg.Payload)+1)
	out = append(out, msg.Payload...)
	return append(out, '\n'), nil
}

type lineDecoder struct {
	r *bufio.Reader
}

func (d *lineDecoder) Decode(msg *broadcaster.Message) error {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		// A trailing unterminated line is still delivered; EOF comes next call.
		if errors.Is(err, io.EOF) && len(line) > 0 {
			msg.Payload = line
			return nil
		}
		return err
	}
	line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
	msg.Payload = line
	return nil
}

// MsgpCodec frames each message as a MessagePack map with "from" and
// "payload" keys. Unknown keys are skipped.
type MsgpCodec struct{}

func (MsgpCodec) NewDecoder(r io.Reader) Decoder {
	return &msgpDecoder{r: msgp.NewReader(r)}
}

func (MsgpCodec) Encode(msg broadcaster.Message) ([]byte, error) {
	buf := make([]byte, 0, len(msg.From)+len(msg.Payload)+24)
	buf = msgp.AppendMapHeader(buf, 2)
	buf = msgp.AppendString(buf, "from")
	buf = msgp.AppendString(buf, msg.From)
	buf = msgp.AppendString(buf, "payload")
	buf = msgp.AppendBytes(buf, msg.Payload)
	return buf, nil
}

type msgpDecoder struct {
	r *msgp.Reader
}

func (d *msgpDecoder) Decode(msg *broadcaster.Message) error {
	n, err := d.r.ReadMapHeader()
	if err != nil {
		return err
	}
	msg.From = ""
	msg.Payload = nil
	for range n {
		key, err := d.r.ReadString()
		if err != nil {
			return fmt.Errorf("read frame key: %w", err)
		}
		switch key {
		case "from":
			if msg.From, err = d.r.ReadString(); err != nil {
				return fmt.Errorf("read frame from: %w", err)
			}
		case "payload":
			if msg.Payload, err = d.r.ReadBytes(nil); err != nil {
				return fmt.Errorf("read frame payload: %w", err)
			}
		default:
			if err := d.r.Skip(); err != nil {
				return fmt.Errorf("skip frame field %q: %w", key, err)
			}
		}
	}
	return nil
}
