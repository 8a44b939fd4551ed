// Package chunk splits encoded messages into transport-sized fragments and
// reassembles them on the far side, tolerating reordering and duplication.
package chunk

import (
	"fmt"

	"midirpc/internal/errs"
)

// MaxTotal is the largest chunk count the wire format can number: sequence
// index and total each travel as a 14-bit field.
const MaxTotal = 1 << 14

// Chunk is one bounded fragment of an encoded message.
type Chunk struct {
	MessageID uint32
	Seq       uint16
	Total     uint16
	Payload   []byte
}

// Final reports whether this is the last fragment of its message.
func (c Chunk) Final() bool {
	return int(c.Seq) == int(c.Total)-1
}

// Split cuts payload into ceil(len/maxSize) chunks of at most maxSize bytes.
// An empty payload still produces a single zero-length chunk so that the
// receiver observes every message.
func Split(msgID uint32, payload []byte, maxSize int) ([]Chunk, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("midirpc: chunk payload size must be positive, got %d", maxSize)
	}
	total := (len(payload) + maxSize - 1) / maxSize
	if total == 0 {
		total = 1
	}
	if total > MaxTotal {
		return nil, fmt.Errorf("%w: %d byte payload needs %d chunks of %d bytes",
			errs.ErrTooManyChunks, len(payload), total, maxSize)
	}
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		lo := i * maxSize
		hi := lo + maxSize
		if hi > len(payload) {
			hi = len(payload)
		}
		chunks = append(chunks, Chunk{
			MessageID: msgID,
			Seq:       uint16(i),
			Total:     uint16(total),
			Payload:   payload[lo:hi],
		})
	}
	return chunks, nil
}
