package dispatch

import (
	"bytes"
	"testing"

	"github.com/zsiec/peerlink/internal/command"
	"github.com/zsiec/peerlink/internal/media"
	"github.com/zsiec/peerlink/internal/reasm"
	"github.com/zsiec/peerlink/internal/wire"
)

func parse(t *testing.T, raw []byte) wire.Packet {
	t.Helper()
	p, err := wire.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func fragments(t *testing.T, kind wire.Kind, h wire.Header, sub, data []byte, chunk int) []wire.Packet {
	t.Helper()
	raws, err := wire.Fragment(kind, h, sub, data, chunk)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]wire.Packet, len(raws))
	for i, raw := range raws {
		out[i] = parse(t, raw)
	}
	return out
}

type recorder struct {
	codes    []command.Code
	payloads [][]byte
}

func (r *recorder) Dispatch(code command.Code, payload []byte) error {
	r.codes = append(r.codes, code)
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	return nil
}

func TestDispatchJSON(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := New(Config{}, rec, nil, nil, nil)

	msg := []byte(`{"code":200,"cmd":2,"data":{"devName":"` + string(bytes.Repeat([]byte("n"), 300)) + `"}}`)
	pkts := fragments(t, wire.KindJSON, wire.Header{ID: 9, Cmd: uint16(command.SettingsGet)}, nil, msg, 100)

	var outcomes []Outcome
	for _, p := range pkts {
		outcomes = append(outcomes, d.Dispatch(p))
	}
	for i, o := range outcomes[:len(outcomes)-1] {
		if o != Pending {
			t.Fatalf("fragment %d: got %v, want pending", i, o)
		}
	}
	if last := outcomes[len(outcomes)-1]; last != Completed {
		t.Fatalf("last fragment: got %v, want completed", last)
	}
	if len(rec.codes) != 1 || rec.codes[0] != command.SettingsGet {
		t.Fatalf("interpreted: got %v, want [%v]", rec.codes, command.SettingsGet)
	}
	if !bytes.Equal(rec.payloads[0], msg) {
		t.Fatalf("payload: got %q, want %q", rec.payloads[0], msg)
	}

	st := d.Stats()
	if st.Packets != int64(len(pkts)) || st.Completed != 1 || st.JSON.Completed != 1 {
		t.Fatalf("stats: got %+v", st)
	}
}

func TestDispatchJSONToRouter(t *testing.T) {
	t.Parallel()
	r := command.NewRouter(nil)
	dev := command.NewDevice(r, nil)
	d := New(Config{}, r, nil, nil, nil)

	raw, err := wire.BuildCommand([]byte(`{"code":200,"data":{"devName":"cam"}}`), 1, uint16(command.SettingsGet), 4096)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Dispatch(parse(t, raw)); got != Completed {
		t.Fatalf("got %v, want completed", got)
	}
	if s := dev.Settings(); s == nil || s.Name != "cam" {
		t.Fatalf("settings: got %+v", s)
	}

	bad, err := wire.BuildCommand([]byte(`not json`), 2, uint16(command.Heartbeat), 4096)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Dispatch(parse(t, bad)); got != Completed {
		t.Fatalf("invalid json: got %v, want completed", got)
	}
	if st := d.Stats(); st.JSONErrors != 1 {
		t.Fatalf("json errors: got %d, want 1", st.JSONErrors)
	}
}

func TestDispatchJSONOverflow(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := New(Config{JSON: reasm.PoolConfig{MaxSize: 150}}, rec, nil, nil, nil)

	pkts := fragments(t, wire.KindJSON, wire.Header{ID: 3}, nil, bytes.Repeat([]byte("x"), 400), 100)
	var dropped int
	for _, p := range pkts {
		if d.Dispatch(p) == Dropped {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatal("expected an overflow drop")
	}
	if len(rec.codes) != 0 {
		t.Fatalf("overflowed message was interpreted: %v", rec.codes)
	}
}

func TestDispatchJSONOverflowNeverCompletes(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	d := New(Config{JSON: reasm.PoolConfig{MaxSize: 250}}, rec, nil, nil, nil)

	// 100+100 fit, the third overflows, the fourth alone would fit the cap
	pkts := fragments(t, wire.KindJSON, wire.Header{ID: 3}, nil, bytes.Repeat([]byte("x"), 400), 100)
	want := []Outcome{Pending, Pending, Dropped, Dropped}
	for i, p := range pkts {
		if got := d.Dispatch(p); got != want[i] {
			t.Fatalf("fragment %d: got %v, want %v", i, got, want[i])
		}
	}
	if len(rec.codes) != 0 {
		t.Fatalf("overflowed message was interpreted: %v", rec.codes)
	}
	st := d.Stats()
	if st.Completed != 0 || st.JSON.Overflows != 1 || st.JSON.Active != 0 {
		t.Fatalf("stats: got %+v", st)
	}
}

func TestDispatchImageScenario(t *testing.T) {
	t.Parallel()
	sink := media.NewMemorySink()
	img := media.NewImageHandler(0, sink, nil)
	d := New(Config{}, nil, img, nil, nil)

	sub := wire.ImageHeader{Channel: 1, Encoding: 1, ImageLen: 100, PTS: 42}.AppendTo(nil)
	first, _ := wire.Encode(wire.KindImage, wire.Header{ID: 7, Index: 1, SubHeader: 1}, sub)
	second, _ := wire.Encode(wire.KindImage, wire.Header{ID: 7}, bytes.Repeat([]byte{0xAB}, 100))

	if got := d.Dispatch(parse(t, first)); got != Pending {
		t.Fatalf("sub-header: got %v, want pending", got)
	}
	if got := d.Dispatch(parse(t, second)); got != Completed {
		t.Fatalf("data: got %v, want completed", got)
	}

	name := media.ImageName(1, 42, media.ImageJPEG)
	data, ok := sink.File(name)
	if !ok || len(data) != 100 {
		t.Fatalf("image %s: got %d bytes (present %v), want 100", name, len(data), ok)
	}
	if n := sink.Writes(name); n != 1 {
		t.Fatalf("writes: got %d, want 1", n)
	}
}

func TestDispatchVideo(t *testing.T) {
	t.Parallel()
	sink := media.NewMemorySink()
	streams := media.NewStreamManager(media.ManagerConfig{}, nil)
	video := media.NewVideoHandler(media.VideoConfig{}, streams, sink, nil)
	d := New(Config{}, nil, nil, video, nil)

	frame := bytes.Repeat([]byte{0xFF, 0xD8, 0x00}, 200)
	sub := wire.VideoHeader{StreamType: 1, Encoding: 3, FrameLen: int32(len(frame)), PTS: 1}.AppendTo(nil)
	pkts := fragments(t, wire.KindVideo, wire.Header{ID: 11}, sub, frame, 256)

	var last Outcome
	for _, p := range pkts {
		last = d.Dispatch(p)
	}
	if last != Completed {
		t.Fatalf("got %v, want completed", last)
	}

	// continuation for an id that is not in flight
	stray, _ := wire.Encode(wire.KindVideo, wire.Header{ID: 99}, []byte{1, 2, 3})
	if got := d.Dispatch(parse(t, stray)); got != Dropped {
		t.Fatalf("stray fragment: got %v, want dropped", got)
	}
}

func TestDispatchChecksumPolicy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy ChecksumPolicy
		want   Outcome
		failed int64
	}{
		{ChecksumIgnore, Completed, 0},
		{ChecksumWarn, Completed, 1},
		{ChecksumDrop, Dropped, 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			d := New(Config{Checksum: tt.policy}, rec, nil, nil, nil)

			raw, err := wire.BuildCommand([]byte(`{"ack":true}`), 1, 1, 4096)
			if err != nil {
				t.Fatal(err)
			}
			raw[len(raw)-1] ^= 0xFF

			if got := d.Dispatch(parse(t, raw)); got != tt.want {
				t.Fatalf("outcome: got %v, want %v", got, tt.want)
			}
			if got := d.Stats().ChecksumFailures; got != tt.failed {
				t.Fatalf("checksum failures: got %d, want %d", got, tt.failed)
			}
		})
	}
}

func TestDispatchMissingHandler(t *testing.T) {
	t.Parallel()
	d := New(Config{}, nil, nil, nil, nil)
	raw, _ := wire.Encode(wire.KindImage, wire.Header{ID: 1}, []byte{1})
	if got := d.Dispatch(parse(t, raw)); got != Dropped {
		t.Fatalf("got %v, want dropped", got)
	}
}

func TestParseChecksumPolicy(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"ignore", "warn", "drop"} {
		p, err := ParseChecksumPolicy(s)
		if err != nil {
			t.Fatal(err)
		}
		if p.String() != s {
			t.Fatalf("got %v, want %s", p, s)
		}
	}
	if _, err := ParseChecksumPolicy("strict"); err == nil {
		t.Fatal("expected error")
	}
}
