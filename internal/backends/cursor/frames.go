// Package cursor adapts the canonical Messages dialect to the Cursor chat
// RPC: length-prefixed binary frames over HTTP/2 with a scrambled checksum
// header.
package cursor

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame flags: 0x00 is a plain payload, and every nonzero flag observed on
// the wire (0x01, 0x02, 0x03) marks a gzipped payload.
const flagGzip byte = 0x01

const frameHeaderSize = 5

// maxFramePayload bounds one decoded frame.
const maxFramePayload = 32 * 1024 * 1024

// frame is one decoded wire frame.
type frame struct {
	flag    byte
	payload []byte
}

// writeFrame encodes one frame: flag byte, 4-byte big-endian payload
// length, payload.
func writeFrame(w io.Writer, flag byte, payload []byte) error {
	if flag != 0 {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return err
		}
		payload = buf.Bytes()
	}

	header := make([]byte, frameHeaderSize)
	header[0] = flag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// encodeRequestBody frames a request payload for the wire.
func encodeRequestBody(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, 0x00, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readFrame reads and decompresses the next frame. Returns io.EOF at a
// clean stream end.
func readFrame(r io.Reader) (*frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}

	flag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFramePayload {
		return nil, fmt.Errorf("frame payload too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("short frame payload: %w", err)
	}

	if flag != 0 && length > 0 {
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("open gzip frame: %w", err)
		}
		payload, err = io.ReadAll(io.LimitReader(gz, maxFramePayload))
		gz.Close()
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
	}
	return &frame{flag: flag, payload: payload}, nil
}
