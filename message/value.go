package message

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"midirpc/internal/errs"
)

// Value codec: a type-tagged binary encoding for the closed set of types a
// call may carry. Encoding canonicalizes every integer width to int64 and
// float32 to float64, so decode(encode(v)) == v holds for canonical values.
// Anything outside the set fails with errs.ErrUnsupportedValue rather than
// being silently coerced.
const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
	tagBytes
	tagList
	tagMap
)

func appendValue(bs []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(bs, tagNil), nil
	case bool:
		if x {
			return append(bs, tagTrue), nil
		}
		return append(bs, tagFalse), nil
	case int:
		return appendInt(bs, int64(x)), nil
	case int8:
		return appendInt(bs, int64(x)), nil
	case int16:
		return appendInt(bs, int64(x)), nil
	case int32:
		return appendInt(bs, int64(x)), nil
	case int64:
		return appendInt(bs, x), nil
	case uint8:
		return appendInt(bs, int64(x)), nil
	case uint16:
		return appendInt(bs, int64(x)), nil
	case uint32:
		return appendInt(bs, int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: uint %d overflows int64", errs.ErrUnsupportedValue, x)
		}
		return appendInt(bs, int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%w: uint64 %d overflows int64", errs.ErrUnsupportedValue, x)
		}
		return appendInt(bs, int64(x)), nil
	case float32:
		return appendFloat(bs, float64(x)), nil
	case float64:
		return appendFloat(bs, x), nil
	case string:
		bs = append(bs, tagString)
		return appendLenBytes(bs, []byte(x)), nil
	case []byte:
		bs = append(bs, tagBytes)
		return appendLenBytes(bs, x), nil
	case []any:
		bs = append(bs, tagList)
		bs = binary.BigEndian.AppendUint32(bs, uint32(len(x)))
		var err error
		for _, item := range x {
			if bs, err = appendValue(bs, item); err != nil {
				return nil, err
			}
		}
		return bs, nil
	case map[string]any:
		bs = append(bs, tagMap)
		bs = binary.BigEndian.AppendUint32(bs, uint32(len(x)))
		var err error
		for _, k := range sortedKeys(x) {
			bs = appendLenBytes(bs, []byte(k))
			if bs, err = appendValue(bs, x[k]); err != nil {
				return nil, err
			}
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("%w: %T", errs.ErrUnsupportedValue, v)
	}
}

func appendInt(bs []byte, v int64) []byte {
	bs = append(bs, tagInt)
	return binary.BigEndian.AppendUint64(bs, uint64(v))
}

func appendFloat(bs []byte, v float64) []byte {
	bs = append(bs, tagFloat)
	return binary.BigEndian.AppendUint64(bs, math.Float64bits(v))
}

func appendLenBytes(bs, data []byte) []byte {
	bs = binary.BigEndian.AppendUint32(bs, uint32(len(data)))
	return append(bs, data...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reader is a bounds-checked cursor over an encoded buffer. Every failure
// surfaces as errs.ErrMalformedMessage; nothing here panics on bad input.
type reader struct {
	bs  []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.bs) - r.off
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("%w: unexpected end of data", errs.ErrMalformedMessage)
	}
	b := r.bs[r.off]
	r.off++
	return b, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: unexpected end of data", errs.ErrMalformedMessage)
	}
	bs := r.bs[r.off : r.off+n]
	r.off += n
	return bs, nil
}

func (r *reader) readUint16() (uint16, error) {
	bs, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(bs), nil
}

func (r *reader) readUint32() (uint32, error) {
	bs, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(bs), nil
}

func (r *reader) readUint64() (uint64, error) {
	bs, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(bs), nil
}

func (r *reader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	bs, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

func readValue(r *reader) (any, error) {
	tag, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNil:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagInt:
		v, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case tagFloat:
		v, err := r.readUint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case tagString:
		return r.readString()
	case tagBytes:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		bs, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), bs...), nil
	case tagList:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		// Each element needs at least one byte; reject absurd counts before
		// allocating.
		if int(n) > r.remaining() {
			return nil, fmt.Errorf("%w: list count %d exceeds remaining data", errs.ErrMalformedMessage, n)
		}
		list := make([]any, 0, n)
		for i := 0; i < int(n); i++ {
			item, err := readValue(r)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case tagMap:
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		if int(n) > r.remaining() {
			return nil, fmt.Errorf("%w: map count %d exceeds remaining data", errs.ErrMalformedMessage, n)
		}
		m := make(map[string]any, n)
		for i := 0; i < int(n); i++ {
			k, err := r.readString()
			if err != nil {
				return nil, err
			}
			v, err := readValue(r)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown value tag 0x%02x", errs.ErrMalformedMessage, tag)
	}
}
