package wire

import "encoding/binary"

// cursor reads little-endian fields from a byte slice. The first read that
// would run past the end records a *ParseError and every later read returns
// zero values, so callers check err once after a sequence of reads.
type cursor struct {
	b   []byte
	off int
	err error
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b}
}

func (c *cursor) need(n int, field string) bool {
	if c.err != nil {
		return false
	}
	if len(c.b)-c.off < n {
		c.err = &ParseError{Field: field, Err: ErrShortBuffer}
		return false
	}
	return true
}

func (c *cursor) u8(field string) uint8 {
	if !c.need(1, field) {
		return 0
	}
	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) i8(field string) int8 {
	return int8(c.u8(field))
}

func (c *cursor) u16(field string) uint16 {
	if !c.need(2, field) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *cursor) i32(field string) int32 {
	if !c.need(4, field) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.b[c.off:])
	c.off += 4
	return int32(v)
}

func (c *cursor) u64(field string) uint64 {
	if !c.need(8, field) {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v
}

func (c *cursor) bytes(n int, field string) []byte {
	if !c.need(n, field) {
		return nil
	}
	v := c.b[c.off : c.off+n]
	c.off += n
	return v
}
