package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameLen bounds the size of a single frame body. A single command
// or a single captured output must fit in one frame; larger payloads are an
// error, not a truncation.
const DefaultMaxFrameLen = uint32(4096)

// LengthPrefixEncoder prefixes every frame with its length as a 4-byte
// big-endian integer before writing the body with the wrapped encoder. Frames
// larger than max are rejected before anything is written.
func LengthPrefixEncoder(enc Encoder, max uint32) Encoder {
	return func(w io.Writer, buf []byte) (int, error) {
		if uint32(len(buf)) > max {
			return 0, fmt.Errorf("encoding frame: %v bytes exceeds maximum %v", len(buf), max)
		}
		prefix := [4]byte{}
		binary.BigEndian.PutUint32(prefix[:], uint32(len(buf)))
		if _, err := w.Write(prefix[:]); err != nil {
			return 0, fmt.Errorf("encoding frame length: %v", err)
		}
		n, err := enc(w, buf)
		if err != nil {
			return n, fmt.Errorf("encoding frame: %v", err)
		}
		return n, nil
	}
}

// LengthPrefixDecoder reads a 4-byte big-endian length, then decodes that many
// bytes into the buffer with the wrapped decoder. Frames larger than max, or
// larger than the buffer, are rejected without being read. A clean EOF before
// the length prefix is returned as io.EOF so that callers can distinguish a
// peer hanging up between frames from a frame being torn mid-read.
func LengthPrefixDecoder(dec Decoder, max uint32) Decoder {
	return func(r io.Reader, buf []byte) (int, error) {
		prefix := [4]byte{}
		if _, err := io.ReadFull(r, prefix[:]); err != nil {
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, fmt.Errorf("decoding frame length: %v", err)
		}
		length := binary.BigEndian.Uint32(prefix[:])
		if length > max {
			return 0, fmt.Errorf("decoding frame: %v bytes exceeds maximum %v", length, max)
		}
		if length > uint32(len(buf)) {
			return 0, fmt.Errorf("decoding frame: %v bytes exceeds buffer %v", length, len(buf))
		}
		n, err := dec(r, buf[:length])
		if err != nil {
			return n, fmt.Errorf("decoding frame: %v", err)
		}
		return n, nil
	}
}
