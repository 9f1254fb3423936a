package extract

import (
	"errors"
	"testing"

	"github.com/zsiec/peerlink/internal/wire"
)

func FuzzExtractor(f *testing.F) {
	// Seed: one valid JSON packet
	pkt, _ := wire.Encode(wire.KindJSON, wire.Header{ID: 1}, []byte(`{"code":0}`))
	f.Add(pkt)

	// Seed: garbage then a valid image packet
	img, _ := wire.Encode(wire.KindImage, wire.Header{ID: 2, SubHeader: 1}, make([]byte, wire.ImageHeaderLen))
	f.Add(append([]byte{0x24, 0x67, 0x00, 0x23}, img...))

	// Seed: prefix with a truncated header
	f.Add([]byte("$div\x01\x02"))

	f.Fuzz(func(t *testing.T, data []byte) {
		e := New(Limits{MaxBuffer: 1 << 16, MaxPacket: 1 << 16}, nil)
		if err := e.Feed(data); err != nil {
			return
		}
		for {
			p, err := e.Next()
			if errors.Is(err, ErrNeedMore) {
				break
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Kind == wire.KindUnknown {
				t.Fatal("emitted packet with unknown prefix")
			}
			if p.Len() < MinPacket {
				t.Fatalf("emitted %d-byte packet", p.Len())
			}
		}
		if e.Buffered() > len(data) {
			t.Fatalf("buffered %d > fed %d", e.Buffered(), len(data))
		}
	})
}
