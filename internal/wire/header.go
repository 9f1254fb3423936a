package wire

import "encoding/binary"

// DecodeHeader reads a Header from the first HeaderLen bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	c := newCursor(b)
	var h Header
	h.Ident = c.u16("header.ident")
	h.Len = c.u16("header.len")
	h.ID = c.u16("header.id")
	h.Index = c.u16("header.index")
	h.Key = c.u16("header.key")
	h.Cmd = c.u16("header.cmd")
	h.SubHeader = c.u8("header.subhead")
	copy(h.Reserved[:], c.bytes(3, "header.reserved"))
	h.UserData = c.u64("header.userdata")
	return h, c.err
}

// AppendTo appends the HeaderLen-byte encoding of h to b.
func (h Header) AppendTo(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, h.Ident)
	b = binary.LittleEndian.AppendUint16(b, h.Len)
	b = binary.LittleEndian.AppendUint16(b, h.ID)
	b = binary.LittleEndian.AppendUint16(b, h.Index)
	b = binary.LittleEndian.AppendUint16(b, h.Key)
	b = binary.LittleEndian.AppendUint16(b, h.Cmd)
	b = append(b, h.SubHeader)
	b = append(b, h.Reserved[:]...)
	return binary.LittleEndian.AppendUint64(b, h.UserData)
}

// DecodeTail reads a Tail from the first TailLen bytes of b.
func DecodeTail(b []byte) (Tail, error) {
	c := newCursor(b)
	var t Tail
	t.Zero = c.u8("tail.zero")
	t.Reserved = c.u8("tail.reserved")
	t.Checksum = c.u16("tail.checksum")
	return t, c.err
}

// AppendTo appends the TailLen-byte encoding of t to b.
func (t Tail) AppendTo(b []byte) []byte {
	b = append(b, t.Zero, t.Reserved)
	return binary.LittleEndian.AppendUint16(b, t.Checksum)
}

// DecodeVideoHeader reads a VideoHeader from the start of a video payload.
func DecodeVideoHeader(b []byte) (VideoHeader, error) {
	c := newCursor(b)
	var v VideoHeader
	v.StreamType = c.i8("video.stream_type")
	v.Encoding = c.i8("video.encode")
	v.FrameType = c.i8("video.frame_type")
	v.Channel = c.i8("video.channel")
	v.Hour = c.u8("video.hour")
	v.Minute = c.u8("video.min")
	v.Second = c.u8("video.sec")
	v.FrameRate = c.u8("video.fps")
	v.FrameLen = c.i32("video.frame_len")
	v.Width = c.u16("video.width")
	v.Height = c.u16("video.height")
	v.PTS = c.u64("video.pts")
	return v, c.err
}

// AppendTo appends the VideoHeaderLen-byte encoding of v to b.
func (v VideoHeader) AppendTo(b []byte) []byte {
	b = append(b, byte(v.StreamType), byte(v.Encoding), byte(v.FrameType), byte(v.Channel))
	b = append(b, v.Hour, v.Minute, v.Second, v.FrameRate)
	b = binary.LittleEndian.AppendUint32(b, uint32(v.FrameLen))
	b = binary.LittleEndian.AppendUint16(b, v.Width)
	b = binary.LittleEndian.AppendUint16(b, v.Height)
	return binary.LittleEndian.AppendUint64(b, v.PTS)
}

// DecodeImageHeader reads an ImageHeader from the start of an image payload.
func DecodeImageHeader(b []byte) (ImageHeader, error) {
	c := newCursor(b)
	var im ImageHeader
	im.ImageType = c.i8("image.type")
	im.Encoding = c.i8("image.encode")
	im.Channel = c.i8("image.channel")
	im.Reserved = c.i8("image.reserve")
	im.Width = c.u16("image.width")
	im.Height = c.u16("image.height")
	im.ImageLen = c.i32("image.len")
	im.PTS = c.u64("image.pts")
	return im, c.err
}

// AppendTo appends the ImageHeaderLen-byte encoding of im to b.
func (im ImageHeader) AppendTo(b []byte) []byte {
	b = append(b, byte(im.ImageType), byte(im.Encoding), byte(im.Channel), byte(im.Reserved))
	b = binary.LittleEndian.AppendUint16(b, im.Width)
	b = binary.LittleEndian.AppendUint16(b, im.Height)
	b = binary.LittleEndian.AppendUint32(b, uint32(im.ImageLen))
	return binary.LittleEndian.AppendUint64(b, im.PTS)
}
