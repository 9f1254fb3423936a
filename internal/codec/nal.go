// Package codec inspects H.264 and H.265 Annex B elementary streams far enough
// to classify access units: NAL unit types, keyframes, parameter sets and the
// coded picture size. It does not reconstruct pixels.
package codec

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALSlice = 1
	NALIDR   = 5
	NALSEI   = 6
	NALSPS   = 7
	NALPPS   = 8
	NALAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCBlaWLP = 16
	HEVCCraNut = 21
	HEVCVPS    = 32
	HEVCSPS    = 33
	HEVCPPS    = 34
	HEVCAUD    = 35
)

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte // includes the NAL header
}

// h264Type extracts the 5-bit type from a one-byte H.264 NAL header.
func h264Type(b []byte) byte { return b[0] & 0x1F }

// hevcType extracts the 6-bit type from the first byte of the two-byte
// H.265 NAL header: forbidden(1) | type(6) | layer_id high bit(1).
func hevcType(b []byte) byte { return (b[0] >> 1) & 0x3F }

// SplitH264 splits an H.264 Annex B stream into NAL units.
func SplitH264(data []byte) []NALUnit {
	return splitAnnexB(data, 1, h264Type)
}

// SplitHEVC splits an H.265 Annex B stream into NAL units.
func SplitHEVC(data []byte) []NALUnit {
	return splitAnnexB(data, 2, hevcType)
}

// splitAnnexB walks 3- and 4-byte start codes. NAL units shorter than
// headerLen are skipped.
func splitAnnexB(data []byte, headerLen int, typeOf func([]byte) byte) []NALUnit {
	var units []NALUnit
	start := -1 // payload start of the unit being scanned
	emit := func(end int) {
		if start < 0 || end-start < headerLen {
			return
		}
		nal := data[start:end]
		units = append(units, NALUnit{Type: typeOf(nal), Data: nal})
	}

	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		switch {
		case data[i+2] == 1:
			emit(i)
			start = i + 3
			i += 3
		case i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1:
			emit(i)
			start = i + 4
			i += 4
		default:
			i++
		}
	}
	emit(len(data))
	return units
}

// unescape removes emulation prevention bytes (00 00 03 -> 00 00).
func unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}
