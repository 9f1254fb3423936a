// Package wire defines the byte-exact layout of the device protocol: a 4-byte
// ASCII type prefix, a fixed 24-byte package header, a type-dependent payload
// and a 4-byte tail carrying a 16-bit additive checksum. All multi-byte fields
// are little-endian.
package wire

// Fixed layout sizes in bytes.
const (
	PrefixLen      = 4
	HeaderLen      = 24
	TailLen        = 4
	VideoHeaderLen = 24
	ImageHeaderLen = 20

	// Overhead is the framing cost of a packet: prefix, header and tail.
	Overhead = PrefixLen + HeaderLen + TailLen

	// MaxPayload is the largest payload the 16-bit length field can describe.
	MaxPayload = 0xFFFF
)

// CommandIdent is the identifier tag stamped on outbound command packets.
const CommandIdent uint16 = 0x876e

// Kind identifies the payload family of a packet by its type prefix.
type Kind uint8

// Known packet kinds.
const (
	KindUnknown Kind = iota
	KindJSON
	KindImage
	KindVideo
)

var (
	prefixJSON  = [PrefixLen]byte{'#', 'n', 's', 'j'}
	prefixImage = [PrefixLen]byte{'$', 'g', 'm', 'i'}
	prefixVideo = [PrefixLen]byte{'$', 'd', 'i', 'v'}
)

// KindOf classifies the first PrefixLen bytes of b. It returns KindUnknown if
// b is too short or the prefix is not one of the three known tags.
func KindOf(b []byte) Kind {
	if len(b) < PrefixLen {
		return KindUnknown
	}
	switch [PrefixLen]byte(b[:PrefixLen]) {
	case prefixJSON:
		return KindJSON
	case prefixImage:
		return KindImage
	case prefixVideo:
		return KindVideo
	}
	return KindUnknown
}

// Prefix returns the 4-byte tag for k. ok is false for KindUnknown.
func (k Kind) Prefix() (p [PrefixLen]byte, ok bool) {
	switch k {
	case KindJSON:
		return prefixJSON, true
	case KindImage:
		return prefixImage, true
	case KindVideo:
		return prefixVideo, true
	}
	return p, false
}

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	}
	return "unknown"
}

// Header is the fixed package header that follows the type prefix.
type Header struct {
	Ident     uint16
	Len       uint16 // payload bytes between header and tail
	ID        uint16 // fragment-group key
	Index     uint16 // 0 marks the terminal fragment of a group
	Key       uint16
	Cmd       uint16
	SubHeader uint8 // 1 when the payload begins with a type-specific sub-header
	Reserved  [3]byte
	UserData  uint64
}

// Terminal reports whether this fragment closes its group.
func (h Header) Terminal() bool { return h.Index == 0 }

// HasSubHeader reports whether the payload starts with a sub-header.
func (h Header) HasSubHeader() bool { return h.SubHeader == 1 }

// Tail closes every packet.
type Tail struct {
	Zero     uint8
	Reserved uint8
	Checksum uint16
}

// VideoHeader is the sub-header carried by the first fragment of a video frame.
type VideoHeader struct {
	StreamType int8 // 1 main, 2 sub, 3 playback, 4 talk, 5 download
	Encoding   int8
	FrameType  int8 // 1 I-frame, 2 P-frame
	Channel    int8
	Hour       uint8
	Minute     uint8
	Second     uint8
	FrameRate  uint8
	FrameLen   int32
	Width      uint16
	Height     uint16
	PTS        uint64
}

// ImageHeader is the sub-header carried by the first fragment of an image.
type ImageHeader struct {
	ImageType int8
	Encoding  int8 // 1 JPEG, 2 PNG
	Channel   int8
	Reserved  int8
	Width     uint16
	Height    uint16
	ImageLen  int32
	PTS       uint64
}
