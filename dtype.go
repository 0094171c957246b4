package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DType is a parsed numpy typestr such as "<f4", "|b1" or "<M8[s]".
type DType struct {
	ByteOrder byte // '<', '>' or '|'
	Kind      byte // b, i, u, f, c, m, M, S, U, V
	Size      int
	Unit      string // datetime/timedelta unit, e.g. "s"
}

// ParseDType takes a numpy-style string like "<f4", "|b1", "<i8", "<M8[s]".
func ParseDType(s string) (DType, error) {
	// the python implementation sometimes HTML escapes the byte order
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return DType{}, fmt.Errorf("invalid dtype: %s", s)
	}

	var dt DType
	switch s[0] {
	case '<', '>', '|':
		dt.ByteOrder = s[0]
	default:
		return DType{}, fmt.Errorf("invalid byte order in dtype: %s", s)
	}

	dt.Kind = s[1]
	if !strings.ContainsRune("biufcmMSUV", rune(dt.Kind)) {
		return DType{}, fmt.Errorf("unsupported dtype kind: %c in %s", dt.Kind, s)
	}

	sizeStr := s[2:]
	if i := strings.IndexByte(sizeStr, '['); i >= 0 {
		if !strings.HasSuffix(sizeStr, "]") {
			return DType{}, fmt.Errorf("invalid unit in dtype: %s", s)
		}
		dt.Unit = sizeStr[i+1 : len(sizeStr)-1]
		sizeStr = sizeStr[:i]
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		return DType{}, fmt.Errorf("invalid size in dtype: %s", s)
	}
	dt.Size = size
	return dt, nil
}

func (dt DType) String() string {
	s := fmt.Sprintf("%c%c%d", dt.ByteOrder, dt.Kind, dt.Size)
	if dt.Unit != "" {
		s += "[" + dt.Unit + "]"
	}
	return s
}

// Name returns a simplified type name (e.g., "float32", "bool", "int64").
func (dt DType) Name() string {
	switch dt.Kind {
	case 'b':
		return "bool"
	case 'i':
		return fmt.Sprintf("int%d", dt.Size*8)
	case 'u':
		return fmt.Sprintf("uint%d", dt.Size*8)
	case 'f':
		return fmt.Sprintf("float%d", dt.Size*8)
	case 'c':
		return fmt.Sprintf("complex%d", dt.Size*8)
	case 'm':
		return "timedelta64"
	case 'M':
		return "datetime64"
	default:
		return "bytes"
	}
}

func (dt DType) order() binary.ByteOrder {
	if dt.ByteOrder == '>' {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DecodeFloat64s converts raw array bytes into float64 values. Integer,
// datetime and timedelta kinds are converted from their integer counts.
func (dt DType) DecodeFloat64s(raw []byte) ([]float64, error) {
	if len(raw)%dt.Size != 0 {
		return nil, fmt.Errorf("buffer of %d bytes is not a multiple of %s", len(raw), dt)
	}
	n := len(raw) / dt.Size
	out := make([]float64, n)
	bo := dt.order()
	for i := 0; i < n; i++ {
		b := raw[i*dt.Size : (i+1)*dt.Size]
		switch {
		case dt.Kind == 'f' && dt.Size == 4:
			out[i] = float64(math.Float32frombits(bo.Uint32(b)))
		case dt.Kind == 'f' && dt.Size == 8:
			out[i] = math.Float64frombits(bo.Uint64(b))
		case dt.Kind == 'b' && dt.Size == 1:
			if b[0] != 0 {
				out[i] = 1
			}
		case dt.Kind == 'i' || dt.Kind == 'm' || dt.Kind == 'M':
			v, err := decodeInt(bo, b)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", dt, err)
			}
			out[i] = float64(v)
		case dt.Kind == 'u':
			v, err := decodeUint(bo, b)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", dt, err)
			}
			out[i] = float64(v)
		default:
			return nil, fmt.Errorf("unsupported dtype for numeric decoding: %s", dt)
		}
	}
	return out, nil
}

func decodeInt(bo binary.ByteOrder, b []byte) (int64, error) {
	switch len(b) {
	case 1:
		return int64(int8(b[0])), nil
	case 2:
		return int64(int16(bo.Uint16(b))), nil
	case 4:
		return int64(int32(bo.Uint32(b))), nil
	case 8:
		return int64(bo.Uint64(b)), nil
	}
	return 0, fmt.Errorf("unsupported integer size %d", len(b))
}

func decodeUint(bo binary.ByteOrder, b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(bo.Uint16(b)), nil
	case 4:
		return uint64(bo.Uint32(b)), nil
	case 8:
		return bo.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported unsigned size %d", len(b))
}

// EncodeFloat64s returns the little-endian "<f8" bytes of vals.
func EncodeFloat64s(vals []float64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// EncodeInt64s returns the little-endian "<i8" bytes of vals.
func EncodeInt64s(vals []int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}
