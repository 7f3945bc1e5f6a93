package engine

import (
	"encoding/binary"
	"fmt"
	"io"
)

// The Docker attach stream multiplexes stdout and stderr into one
// byte stream of frames: a 1-byte stream tag, 3 reserved bytes, a
// 4-byte big-endian payload length, then the payload.
const (
	streamStdin  = 0
	streamStdout = 1
	streamStderr = 2

	frameHeaderLen = 8
	frameSizeIndex = 4
)

// Demuxer incrementally splits a multiplexed attach stream into its
// stdout and stderr sinks. It implements io.Writer so it can be fed
// directly from the hijacked connection: chunk boundaries need not
// align with frame boundaries, and bytes are never dropped or
// duplicated across chunks. A trailing partial frame is held until
// more data arrives; if the stream ends first it is discarded, since
// the process has already exited by then.
type Demuxer struct {
	stdout io.Writer
	stderr io.Writer
	buf    []byte
}

// NewDemuxer returns a demuxer writing decoded payloads to the given
// sinks. Frames with an unknown stream tag are skipped whole.
func NewDemuxer(stdout, stderr io.Writer) *Demuxer {
	return &Demuxer{stdout: stdout, stderr: stderr}
}

// Write consumes one chunk of the multiplexed stream and forwards
// every frame completed by it.
func (d *Demuxer) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	for {
		if len(d.buf) < frameHeaderLen {
			return len(p), nil
		}
		size := int(binary.BigEndian.Uint32(d.buf[frameSizeIndex:frameHeaderLen]))
		if len(d.buf) < frameHeaderLen+size {
			return len(p), nil
		}
		payload := d.buf[frameHeaderLen : frameHeaderLen+size]
		var sink io.Writer
		switch d.buf[0] {
		case streamStdout:
			sink = d.stdout
		case streamStderr:
			sink = d.stderr
		}
		if sink != nil && size > 0 {
			if _, err := sink.Write(payload); err != nil {
				return len(p), fmt.Errorf("demux write: %w", err)
			}
		}
		// Shift the consumed frame out without growing the buffer.
		n := copy(d.buf, d.buf[frameHeaderLen+size:])
		d.buf = d.buf[:n]
	}
}

// Buffered returns the number of bytes of an incomplete trailing
// frame currently held.
func (d *Demuxer) Buffered() int { return len(d.buf) }
