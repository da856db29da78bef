// Package wireproto implements the length-prefixed message framing of
// spec.md section 4.A / 6: a 4-byte little-endian length followed by a
// serialized envelope carrying a JSON command-list string plus zero or
// more opaque blobs. Grounded on the original source's
// CommunicationManager.cc / QueryMessage.cc split between byte framing
// and message semantics - this package owns only the byte framing.
package wireproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxEnvelopeSize bounds a single envelope to guard against a
// malformed or hostile length prefix causing an unbounded allocation.
const MaxEnvelopeSize = 2 << 30 // 2 GiB

// Envelope is one framed message: a JSON command list plus an ordered
// list of opaque blobs.
type Envelope struct {
	JSON  string
	Blobs [][]byte
}

// The on-wire representation immediately following the
// length prefix: the JSON byte length, then the JSON bytes, then a blob
// count, then each blob's length-prefixed bytes.
//
// layout:
//
//	uint32 total_length
//	uint32 json_length
//	json_length bytes of JSON
//	uint32 blob_count
//	for each blob: uint32 blob_length, blob_length bytes

// WriteEnvelope serializes env to w in the wire format described above.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	bw := bufio.NewWriter(w)

	jsonBytes := []byte(env.JSON)
	body, err := encodeBody(jsonBytes, env.Blobs)
	if err != nil {
		return fmt.Errorf("wireproto: encoding envelope body: %w", err)
	}

	if err := binary.Write(bw, binary.LittleEndian, uint32(len(body))); err != nil {
		return fmt.Errorf("wireproto: writing length prefix: %w", err)
	}
	if _, err := bw.Write(body); err != nil {
		return fmt.Errorf("wireproto: writing envelope body: %w", err)
	}
	return bw.Flush()
}

func encodeBody(jsonBytes []byte, blobs [][]byte) ([]byte, error) {
	size := 4 + len(jsonBytes) + 4
	for _, b := range blobs {
		size += 4 + len(b)
	}

	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(jsonBytes)))
	offset += 4
	copy(buf[offset:], jsonBytes)
	offset += len(jsonBytes)

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(blobs)))
	offset += 4

	for _, b := range blobs {
		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(b)))
		offset += 4
		copy(buf[offset:], b)
		offset += len(b)
	}

	return buf, nil
}

// ReadEnvelope reads one framed message from r. It returns io.EOF
// unchanged when the connection is closed cleanly before any bytes of a
// new message arrive.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var totalLen uint32
	if err := binary.Read(r, binary.LittleEndian, &totalLen); err != nil {
		return nil, err // surfaces io.EOF as-is so callers can detect clean close
	}
	if totalLen == 0 || totalLen > MaxEnvelopeSize {
		return nil, fmt.Errorf("wireproto: invalid envelope length %d", totalLen)
	}

	body := make([]byte, totalLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wireproto: reading envelope body: %w", err)
	}

	return decodeBody(body)
}

func decodeBody(body []byte) (*Envelope, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("wireproto: envelope truncated before json length")
	}
	offset := 0
	jsonLen := binary.LittleEndian.Uint32(body[offset:])
	offset += 4
	if uint32(len(body)-offset) < jsonLen {
		return nil, fmt.Errorf("wireproto: envelope truncated in json section")
	}
	jsonBytes := body[offset : offset+int(jsonLen)]
	offset += int(jsonLen)

	if len(body)-offset < 4 {
		return nil, fmt.Errorf("wireproto: envelope truncated before blob count")
	}
	blobCount := binary.LittleEndian.Uint32(body[offset:])
	offset += 4

	blobs := make([][]byte, 0, blobCount)
	for i := uint32(0); i < blobCount; i++ {
		if len(body)-offset < 4 {
			return nil, fmt.Errorf("wireproto: envelope truncated before blob %d length", i)
		}
		blobLen := binary.LittleEndian.Uint32(body[offset:])
		offset += 4
		if uint32(len(body)-offset) < blobLen {
			return nil, fmt.Errorf("wireproto: envelope truncated in blob %d", i)
		}
		blob := make([]byte, blobLen)
		copy(blob, body[offset:offset+int(blobLen)])
		blobs = append(blobs, blob)
		offset += int(blobLen)
	}

	return &Envelope{JSON: string(jsonBytes), Blobs: blobs}, nil
}
