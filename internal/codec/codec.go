// Package codec maps object payloads to the canonical byte frames the store
// persists and hashes.
//
// A frame is "{tag} {payloadSize}\x00{payload}". The frame, not the bare
// payload, is what gets hashed: two payloads of different kinds never share
// a key even when their bytes are equal.
package codec

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strconv"
)

// Sum returns the SHA-256 digest of a frame.
func Sum(frame []byte) [32]byte {
	return sha256.Sum256(frame)
}

// Encode frames a payload under the given kind tag.
// Format: "{tag} {size}\0{payload}"
func Encode(tag string, payload []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", tag, len(payload))
	buf := make([]byte, len(header)+len(payload))
	copy(buf, header)
	copy(buf[len(header):], payload)
	return buf
}

// Decode splits a frame into its kind tag and payload.
// The declared size must match the payload length exactly.
func Decode(frame []byte) (tag string, payload []byte, err error) {
	idx := bytes.IndexByte(frame, 0)
	if idx == -1 {
		return "", nil, fmt.Errorf("codec: missing frame header")
	}

	header := frame[:idx]
	sep := bytes.IndexByte(header, ' ')
	if sep == -1 {
		return "", nil, fmt.Errorf("codec: malformed frame header")
	}

	tag = string(header[:sep])
	if tag == "" {
		return "", nil, fmt.Errorf("codec: empty kind tag")
	}

	size, err := strconv.Atoi(string(header[sep+1:]))
	if err != nil {
		return "", nil, fmt.Errorf("codec: bad size in frame header: %w", err)
	}

	payload = frame[idx+1:]
	if len(payload) != size {
		return "", nil, fmt.Errorf("codec: frame declares %d payload bytes, has %d", size, len(payload))
	}

	return tag, payload, nil
}
