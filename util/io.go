package util

import (
	"errors"
	"io"
	"net"
)

// DefaultBufSize is the standard buffer size for network reads (32 KiB).
const DefaultBufSize = 32 * 1024

// Chunk is one read from a stream.  Err is only set on the last chunk a
// pump delivers; io.EOF marks a clean close by the remote.
type Chunk struct {
	Data []byte
	Err  error
}

// PumpReader reads r until it fails, delivering a private copy of every
// read on out.  It returns early when done is closed, and closes out on
// return.  A consumer that stops receiving stalls the pump, which stops
// reading from r; engines rely on this to push back on the remote.
func PumpReader(r io.Reader, out chan<- Chunk, done <-chan struct{}) {
	defer close(out)

	buf := GetBuf()
	defer PutBuf(buf)

	for {
		n, err := r.Read(*buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, (*buf)[:n])
			select {
			case out <- Chunk{Data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case out <- Chunk{Err: err}:
			case <-done:
			}
			return
		}
	}
}

// IsClosedErr reports whether err is one of the errors expected when a
// connection is torn down: EOF, a closed pipe, or use of a closed
// network connection.
func IsClosedErr(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
