package wire

import "fmt"

// Packet is one complete raw packet as it appeared on the wire.
type Packet struct {
	Kind    Kind
	Header  Header
	Payload []byte // Header.Len bytes, sub-header included when present
	Tail    Tail

	raw []byte
}

// Bytes returns the full raw encoding of the packet.
func (p Packet) Bytes() []byte { return p.raw }

// Len is the total raw length of the packet.
func (p Packet) Len() int { return len(p.raw) }

// ComputedChecksum sums every byte before the tail.
func (p Packet) ComputedChecksum() uint16 {
	if len(p.raw) < TailLen {
		return 0
	}
	return Checksum(p.raw[:len(p.raw)-TailLen])
}

// ChecksumOK reports whether the stored checksum matches the computed one.
func (p Packet) ChecksumOK() bool {
	return p.ComputedChecksum() == p.Tail.Checksum
}

// PacketLen is the raw size of a packet carrying payloadLen bytes.
func PacketLen(payloadLen int) int {
	return Overhead + payloadLen
}

// Checksum is the unsigned 16-bit sum of b.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}

// Parse decodes a complete raw packet. The returned Packet aliases raw.
func Parse(raw []byte) (Packet, error) {
	if len(raw) < Overhead {
		return Packet{}, &ParseError{Field: "packet", Err: ErrShortBuffer}
	}
	kind := KindOf(raw)
	if kind == KindUnknown {
		return Packet{}, fmt.Errorf("%w: %q", ErrUnknownPrefix, raw[:PrefixLen])
	}
	h, err := DecodeHeader(raw[PrefixLen:])
	if err != nil {
		return Packet{}, err
	}
	if want := PacketLen(int(h.Len)); len(raw) != want {
		return Packet{}, fmt.Errorf("%w: header says %d bytes, packet has %d", ErrLengthMismatch, want, len(raw))
	}
	bodyEnd := PrefixLen + HeaderLen + int(h.Len)
	t, err := DecodeTail(raw[bodyEnd:])
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		Kind:    kind,
		Header:  h,
		Payload: raw[PrefixLen+HeaderLen : bodyEnd],
		Tail:    t,
		raw:     raw,
	}, nil
}

// Encode serializes one packet. h.Len is overwritten with len(payload) and
// the tail checksum is computed over prefix, header and payload.
func Encode(kind Kind, h Header, payload []byte) ([]byte, error) {
	prefix, ok := kind.Prefix()
	if !ok {
		return nil, ErrUnknownPrefix
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrPacketTooLarge, len(payload), MaxPayload)
	}
	h.Len = uint16(len(payload))

	b := make([]byte, 0, PacketLen(len(payload)))
	b = append(b, prefix[:]...)
	b = h.AppendTo(b)
	b = append(b, payload...)
	return Tail{Checksum: Checksum(b)}.AppendTo(b), nil
}
