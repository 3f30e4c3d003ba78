package codec

import (
	"io"
)

// PlainEncoder writes data directly to the I/O writer without modification.
// The entire buffer is written.
func PlainEncoder(w io.Writer, buf []byte) (int, error) {
	return w.Write(buf)
}

// PlainDecoder reads data directly from the I/O reader without modification.
// The entire buffer will be filled by reading data from the I/O reader, so the
// buffer must be of the right length with respect to the data being read.
func PlainDecoder(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}
