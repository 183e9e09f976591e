package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// DefaultMaxFrameSize bounds a single frame when the caller does not configure one.
const DefaultMaxFrameSize = 64 << 10

var (
	// ErrMalformed is returned for frames whose body is not a valid Message.
	ErrMalformed = errors.New("malformed message")
	// ErrFrameTooLarge is returned for frames above the configured limit. The
	// body has been discarded and the stream is still usable.
	ErrFrameTooLarge = errors.New("frame too large")
)

// ReadFrame reads one length-prefixed frame and decodes the Message inside it.
// Errors other than ErrMalformed and ErrFrameTooLarge leave the stream unusable.
func ReadFrame(r io.Reader, maxSize int) (*Message, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if int64(length) > int64(maxSize) {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return nil, fmt.Errorf("discard frame: %w", err)
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	return Decode(buf)
}

// WriteFrame encodes msg and writes it as a single length-prefixed frame.
func WriteFrame(w io.Writer, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decode parses a frame body.
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Kind == "" {
		return nil, fmt.Errorf("%w: operationKind is required", ErrMalformed)
	}
	return &msg, nil
}

// JoinIDs renders ids as a sorted comma separated list.
func JoinIDs(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// SplitIDs parses a list produced by JoinIDs.
func SplitIDs(text string) ([]int64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
