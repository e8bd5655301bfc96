package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// EncodeVLQInt writes v as a big-endian run of 7-bit groups.
// Values in [-32, 96) take one byte; the full int32 range takes five.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	if v < -(1<<26) || v >= 3<<26 {
		buf[n] = byte(v>>28)&0x7F | 0x80
		n++
	}
	if v < -(1<<19) || v >= 3<<19 {
		buf[n] = byte(v>>21)&0x7F | 0x80
		n++
	}
	if v < -(1<<12) || v >= 3<<12 {
		buf[n] = byte(v>>14)&0x7F | 0x80
		n++
	}
	if v < -(1<<5) || v >= 3<<5 {
		buf[n] = byte(v>>7)&0x7F | 0x80
		n++
	}
	buf[n] = byte(v) & 0x7F
	n++
	output.Output(buf[:n])
}

// EncodeVLQUint writes v using the signed encoding of its bit pattern
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// EncodeVLQBool writes b as 0 or 1
func EncodeVLQBool(output OutputBuffer, b bool) {
	if b {
		EncodeVLQUint(output, 1)
	} else {
		EncodeVLQUint(output, 0)
	}
}

// DecodeVLQInt reads one value and advances *data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	buf := *data
	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32(buf[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	i := 1
	for c&0x80 != 0 {
		if i >= len(buf) {
			return 0, ErrBufferTooSmall
		}
		if i == 5 {
			return 0, ErrInvalidVLQ
		}
		c = uint32(buf[i])
		v = v<<7 | c&0x7F
		i++
	}
	*data = buf[i:]
	return int32(v), nil
}

// DecodeVLQUint reads one value as unsigned
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// DecodeVLQArgs reads len(dst) unsigned values in order
func DecodeVLQArgs(data *[]byte, dst ...*uint32) error {
	for _, p := range dst {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}

// EncodeVLQBytes writes a length-prefixed byte string
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes reads a length-prefixed byte string; the result aliases *data
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < length {
		return nil, ErrBufferTooSmall
	}
	result := (*data)[:length]
	*data = (*data)[length:]
	return result, nil
}
