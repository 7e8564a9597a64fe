package notify

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yndnr/relaymesh-go/pkg/crypto/adaptive"
)

// Frame flags, carried in the first prefix word.
const (
	FlagEncrypted uint32 = 1 << 0
	FlagBatch     uint32 = 1 << 1
	FlagChannel   uint32 = 1 << 2
)

// ErrShortFrame is returned for a frame shorter than its prefix.
var ErrShortFrame = errors.New("notify: frame shorter than prefix")

// Frame is a decoded socket frame.
type Frame struct {
	Flags   uint32
	Channel uint32
	Payload []byte
}

// Framer builds the binary frames of one session.
//
// The prefix is a big-endian flags word, followed by the channel id when the
// socket is multiplexed. With a cipher the payload is sealed and the prefix
// is authenticated as additional data.
type Framer struct {
	channel     uint32
	multiplexed bool
	cipher      adaptive.Cipher
}

// NewFramer creates a framer. c may be nil for plaintext frames.
func NewFramer(channel uint32, multiplexed bool, c adaptive.Cipher) *Framer {
	return &Framer{channel: channel, multiplexed: multiplexed, cipher: c}
}

func (f *Framer) prefix(flags uint32) []byte {
	if f.cipher != nil {
		flags |= FlagEncrypted
	}
	if f.multiplexed {
		flags |= FlagChannel
		p := make([]byte, 8)
		binary.BigEndian.PutUint32(p, flags)
		binary.BigEndian.PutUint32(p[4:], f.channel)
		return p
	}
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, flags)
	return p
}

// Encode frames payload. batch selects the batch encoding flag.
func (f *Framer) Encode(payload []byte, batch bool) ([]byte, error) {
	var flags uint32
	if batch {
		flags |= FlagBatch
	}
	prefix := f.prefix(flags)

	if f.cipher == nil {
		frame := make([]byte, 0, len(prefix)+len(payload))
		return append(append(frame, prefix...), payload...), nil
	}

	frame := make([]byte, len(prefix), len(prefix)+len(payload)+f.cipher.Overhead())
	copy(frame, prefix)
	frame, err := f.cipher.Seal(frame, payload, prefix)
	if err != nil {
		return nil, fmt.Errorf("notify: seal frame: %w", err)
	}
	return frame, nil
}

// DecodeFrame parses a frame, opening the payload with c when the frame is
// marked encrypted.
func DecodeFrame(b []byte, c adaptive.Cipher) (Frame, error) {
	if len(b) < 4 {
		return Frame{}, ErrShortFrame
	}
	f := Frame{Flags: binary.BigEndian.Uint32(b)}
	n := 4
	if f.Flags&FlagChannel != 0 {
		if len(b) < 8 {
			return Frame{}, ErrShortFrame
		}
		f.Channel = binary.BigEndian.Uint32(b[4:])
		n = 8
	}

	if f.Flags&FlagEncrypted == 0 {
		f.Payload = b[n:]
		return f, nil
	}
	if c == nil {
		return Frame{}, errors.New("notify: encrypted frame without a key")
	}
	payload, err := c.Open(b[n:], b[:n])
	if err != nil {
		return Frame{}, fmt.Errorf("notify: open frame: %w", err)
	}
	f.Payload = payload
	return f, nil
}
