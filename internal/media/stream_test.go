package media

import (
	"errors"
	"testing"

	"github.com/zsiec/peerlink/internal/wire"
)

func TestStreamManagerGetOrCreate(t *testing.T) {
	t.Parallel()
	m := NewStreamManager(ManagerConfig{}, nil)

	s1, err := m.GetOrCreate(StreamMain)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.GetOrCreate(StreamMain)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("second GetOrCreate returned a different stream")
	}
	if s1.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}
	if _, ok := m.Get(StreamSub); ok {
		t.Error("Get returned a stream that was never created")
	}
}

func TestStreamManagerInvalidType(t *testing.T) {
	t.Parallel()
	m := NewStreamManager(ManagerConfig{}, nil)
	for _, st := range []StreamType{0, 6, -1} {
		if _, err := m.GetOrCreate(st); !errors.Is(err, ErrBadStreamType) {
			t.Errorf("type %d: got %v, want ErrBadStreamType", st, err)
		}
		if err := m.Stop(st); !errors.Is(err, ErrBadStreamType) {
			t.Errorf("stop %d: got %v, want ErrBadStreamType", st, err)
		}
	}
}

func TestStreamManagerStopUncreated(t *testing.T) {
	t.Parallel()
	m := NewStreamManager(ManagerConfig{}, nil)
	if err := m.Stop(StreamTalk); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := m.GetOrCreate(StreamTalk); err != nil {
		t.Errorf("stream never created should still be creatable: %v", err)
	}
}

func TestStreamManagerListOrder(t *testing.T) {
	t.Parallel()
	m := NewStreamManager(ManagerConfig{}, nil)
	for _, st := range []StreamType{StreamDownload, StreamMain, StreamPlayback} {
		if _, err := m.GetOrCreate(st); err != nil {
			t.Fatal(err)
		}
	}
	_ = m.Stop(StreamPlayback)

	infos := m.List()
	if len(infos) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(infos))
	}
	want := []string{"main", "playback", "download"}
	for i, info := range infos {
		if info.Name != want[i] {
			t.Errorf("stream %d: got %q, want %q", i, info.Name, want[i])
		}
	}
	if !infos[1].Stopped || infos[0].Stopped {
		t.Error("stopped flag not reported")
	}
}

func TestStreamManagerPrepareWithoutDecoder(t *testing.T) {
	t.Parallel()
	m := NewStreamManager(ManagerConfig{}, nil)
	s, _ := m.GetOrCreate(StreamMain)
	m.Prepare(s, wire.VideoHeader{StreamType: 1, Encoding: 2, Width: 320, Height: 240})
	info := s.Info()
	if info.Decoding || info.Codec != "h265" || info.Width != 320 {
		t.Errorf("info: got %+v", info)
	}
}

func TestStreamManagerDecoderFactoryError(t *testing.T) {
	t.Parallel()
	m := NewStreamManager(ManagerConfig{
		NewDecoder: func(Codec, FrameCallback) (Decoder, error) {
			return nil, errors.New("no codec")
		},
	}, nil)
	s, _ := m.GetOrCreate(StreamMain)
	m.Prepare(s, wire.VideoHeader{StreamType: 1, Encoding: 1})
	if s.Info().Decoding {
		t.Error("decoder reported after factory failure")
	}
}

func TestStreamManagerClose(t *testing.T) {
	t.Parallel()
	var f fakes
	m := NewStreamManager(f.config(), nil)
	s, _ := m.GetOrCreate(StreamMain)
	m.Prepare(s, wire.VideoHeader{StreamType: 1, Encoding: 1, Width: 640, Height: 480})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.decoders[0].closed {
		t.Error("decoder not closed")
	}
	if !s.Stopped() {
		t.Error("stream not stopped after Close")
	}
}

func TestDisplaySize(t *testing.T) {
	t.Parallel()
	tests := []struct{ w, h, ww, wh int }{
		{1920, 1080, 1280, 720},
		{1280, 720, 1280, 720},
		{640, 360, 640, 360},
	}
	for _, tt := range tests {
		w, h := DisplaySize(tt.w, tt.h)
		if w != tt.ww || h != tt.wh {
			t.Errorf("DisplaySize(%d, %d): got %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.ww, tt.wh)
		}
	}
}

func TestFileNames(t *testing.T) {
	t.Parallel()
	tests := []struct {
		got, want string
	}{
		{ImageName(1, 42, ImageJPEG), "snapshot_ch1_42.jpg"},
		{ImageName(3, 0, ImagePNG), "snapshot_ch3_0.png"},
		{JPEGFrameName("output_video", StreamMain, 7), "output_video_stream1_frame000007.jpg"},
		{StreamFileName("output_video", StreamSub, CodecH265), "output_video_stream2.h265"},
		{StreamFileName("cam", StreamMain, CodecH264), "cam_stream1.h264"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
