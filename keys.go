package carton

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Record keys are 8-byte big-endian sequence numbers so that byte order
// in the data bucket matches numeric insertion order.

func encodeRecordKey(key uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return buf[:]
}

func decodeRecordKey(raw []byte) uint64 {
	if len(raw) != 8 {
		panic(fmt.Errorf("malformed record key: %x", raw))
	}
	return binary.BigEndian.Uint64(raw)
}

// Index entry keys are a length-prefixed canonical value encoding,
// followed by the record key for non-unique indexes so that equal
// values sort by record key. The length prefix keeps equality prefix
// scans unambiguous for variable-length values.

func encodeIndexValue(value any) ([]byte, error) {
	body, err := appendCanonicalValue(nil, normalizeValue(value))
	if err != nil {
		return nil, err
	}
	buf := binary.AppendUvarint(nil, uint64(len(body)))
	return append(buf, body...), nil
}

func encodeIndexEntry(value any, key uint64) ([]byte, error) {
	buf, err := encodeIndexValue(value)
	if err != nil {
		return nil, err
	}
	return append(buf, encodeRecordKey(key)...), nil
}

const (
	tagNil    byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagInt    byte = 0x04
	tagFloat  byte = 0x05
	tagString byte = 0x06
	tagBytes  byte = 0x07
)

func appendCanonicalValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case int64:
		buf = append(buf, tagInt)
		// flip the sign bit so negative values sort before positive
		return binary.BigEndian.AppendUint64(buf, uint64(x)^(1<<63)), nil
	case float64:
		buf = append(buf, tagFloat)
		bits := math.Float64bits(x)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		return binary.BigEndian.AppendUint64(buf, bits), nil
	case string:
		buf = append(buf, tagString)
		return append(buf, x...), nil
	case []byte:
		buf = append(buf, tagBytes)
		return append(buf, x...), nil
	default:
		return nil, fmt.Errorf("value of type %T cannot be indexed", v)
	}
}
