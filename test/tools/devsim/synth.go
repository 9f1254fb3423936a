package main

import "encoding/binary"

var (
	startCode = []byte{0x00, 0x00, 0x00, 0x01}

	// 1280x720 High profile
	sps = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	pps = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

// h264Frame builds an Annex B access unit. Keyframes carry SPS, PPS and an
// IDR slice; the rest carry one non-IDR slice. Slice bodies are filler sized
// so frames span several fragments.
func h264Frame(key bool, n int64) []byte {
	size := 2048
	if key {
		size = 12 * 1024
	}
	var out []byte
	if key {
		out = append(out, startCode...)
		out = append(out, sps...)
		out = append(out, startCode...)
		out = append(out, pps...)
	}
	out = append(out, startCode...)
	if key {
		out = append(out, 0x65, 0x88, 0x84)
	} else {
		out = append(out, 0x41, 0x9a, 0x02)
	}
	body := make([]byte, size)
	for i := range body {
		// never 0x00 so the filler cannot form a start code
		body[i] = byte(n+int64(i))%0xfe + 1
	}
	return append(out, body...)
}

// jpegImage returns a structurally plausible baseline JPEG: SOI, APP0, SOF0
// with the given dimensions, filler scan data and EOI.
func jpegImage(w, h uint16) []byte {
	out := []byte{0xff, 0xd8}
	out = append(out, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00)

	sof := []byte{0xff, 0xc0, 0x00, 0x11, 0x08, 0, 0, 0, 0, 0x03,
		0x01, 0x22, 0x00, 0x02, 0x11, 0x01, 0x03, 0x11, 0x01}
	binary.BigEndian.PutUint16(sof[5:], h)
	binary.BigEndian.PutUint16(sof[7:], w)
	out = append(out, sof...)

	scan := make([]byte, 4096)
	for i := range scan {
		scan[i] = byte(i*7)%0xfe + 1
	}
	out = append(out, 0xff, 0xda, 0x00, 0x0c, 0x03, 0x01, 0x00, 0x02, 0x11, 0x03, 0x11, 0x00, 0x3f, 0x00)
	out = append(out, scan...)
	return append(out, 0xff, 0xd9)
}
