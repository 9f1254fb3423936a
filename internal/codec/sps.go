package codec

import "errors"

var errShortSPS = errors.New("codec: SPS too short")

// bits reads an RBSP MSB first. The first overrun sets err and later reads
// return zero.
type bits struct {
	data []byte
	pos  int // bit position
	err  error
}

func (b *bits) u(n int) uint {
	var v uint
	for i := 0; i < n; i++ {
		if b.err != nil {
			return 0
		}
		if b.pos>>3 >= len(b.data) {
			b.err = errShortSPS
			return 0
		}
		bit := (b.data[b.pos>>3] >> (7 - uint(b.pos&7))) & 1
		v = v<<1 | uint(bit)
		b.pos++
	}
	return v
}

func (b *bits) flag() bool { return b.u(1) == 1 }

// ue reads an Exp-Golomb unsigned value.
func (b *bits) ue() uint {
	zeros := 0
	for b.u(1) == 0 {
		if b.err != nil || zeros > 31 {
			b.err = errShortSPS
			return 0
		}
		zeros++
	}
	return (1<<zeros - 1) + b.u(zeros)
}

// se reads an Exp-Golomb signed value.
func (b *bits) se() int {
	v := b.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (b *bits) skipScalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && b.err == nil; j++ {
		if next != 0 {
			next = (last + b.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// Picture is the coded size and profile carried by an H.264 SPS.
type Picture struct {
	Width   int
	Height  int
	Profile byte
	Level   byte
}

// ParseH264SPS reads the picture size from an SPS NAL unit (NAL header
// included, start code excluded).
func ParseH264SPS(nal []byte) (Picture, error) {
	if len(nal) < 4 {
		return Picture{}, errShortSPS
	}
	b := &bits{data: unescape(nal[1:])}

	profile := b.u(8)
	b.u(8) // constraint flags
	level := b.u(8)
	b.ue() // seq_parameter_set_id

	chroma := uint(1)
	separatePlanes := false
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chroma = b.ue()
		if chroma == 3 {
			separatePlanes = b.flag()
		}
		b.ue() // bit_depth_luma_minus8
		b.ue() // bit_depth_chroma_minus8
		b.u(1) // qpprime_y_zero_transform_bypass_flag
		if b.flag() {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !b.flag() {
					continue
				}
				if i < 6 {
					b.skipScalingList(16)
				} else {
					b.skipScalingList(64)
				}
			}
		}
	}

	b.ue() // log2_max_frame_num_minus4
	switch b.ue() {
	case 0:
		b.ue()
	case 1:
		b.u(1)
		b.se()
		b.se()
		for n := b.ue(); n > 0 && b.err == nil; n-- {
			b.se()
		}
	}
	b.ue() // max_num_ref_frames
	b.u(1) // gaps_in_frame_num_allowed_flag
	widthMbs := b.ue() + 1
	heightUnits := b.ue() + 1
	frameMbsOnly := b.u(1)
	if frameMbsOnly == 0 {
		b.u(1)
	}
	b.u(1) // direct_8x8_inference_flag

	var cl, cr, ct, cb uint
	if b.flag() {
		cl, cr, ct, cb = b.ue(), b.ue(), b.ue(), b.ue()
	}
	if b.err != nil {
		return Picture{}, b.err
	}

	subW, subH := uint(2), uint(2)
	switch {
	case separatePlanes || chroma == 0 || chroma == 3:
		subW, subH = 1, 1
	case chroma == 2:
		subH = 1
	}
	cropX := subW
	cropY := subH * (2 - frameMbsOnly)

	return Picture{
		Width:   int(widthMbs*16 - cropX*(cl+cr)),
		Height:  int(heightUnits*16*(2-frameMbsOnly) - cropY*(ct+cb)),
		Profile: byte(profile),
		Level:   byte(level),
	}, nil
}
