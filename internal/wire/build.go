package wire

import "fmt"

// BuildCommand serializes a JSON payload as a single unfragmented command
// packet: fragment index 0, no sub-header, ident CommandIdent. It fails with
// ErrPacketTooLarge when the encoded packet would not fit in max bytes.
func BuildCommand(payload []byte, id, cmd uint16, max int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d exceeds %d", ErrPacketTooLarge, len(payload), MaxPayload)
	}
	if total := PacketLen(len(payload)); total > max {
		return nil, fmt.Errorf("%w: %d bytes exceeds buffer of %d", ErrPacketTooLarge, total, max)
	}
	return Encode(KindJSON, Header{Ident: CommandIdent, ID: id, Cmd: cmd}, payload)
}

// Fragment splits one logical entity into a packet sequence sharing h.ID.
// When sub is non-nil the first packet carries it with SubHeader set and the
// remaining packets are pure continuations. Each payload holds at most chunk
// bytes and fragment indices count down so the last packet has index 0.
func Fragment(kind Kind, h Header, sub, data []byte, chunk int) ([][]byte, error) {
	if len(sub) == 0 && len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if chunk > MaxPayload {
		chunk = MaxPayload
	}
	if chunk < 1 || chunk < len(sub) {
		return nil, fmt.Errorf("%w: chunk %d, sub-header %d", ErrBadChunk, chunk, len(sub))
	}

	var payloads [][]byte
	rest := data
	if len(sub) > 0 {
		n := min(chunk-len(sub), len(rest))
		first := make([]byte, 0, len(sub)+n)
		first = append(first, sub...)
		first = append(first, rest[:n]...)
		payloads = append(payloads, first)
		rest = rest[n:]
	}
	for len(rest) > 0 {
		n := min(chunk, len(rest))
		payloads = append(payloads, rest[:n])
		rest = rest[n:]
	}
	if len(payloads) > 0xFFFF+1 {
		return nil, fmt.Errorf("%w: %d fragments", ErrPacketTooLarge, len(payloads))
	}

	out := make([][]byte, 0, len(payloads))
	for i, p := range payloads {
		fh := h
		fh.Index = uint16(len(payloads) - 1 - i)
		fh.SubHeader = 0
		if i == 0 && len(sub) > 0 {
			fh.SubHeader = 1
		}
		raw, err := Encode(kind, fh, p)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}
