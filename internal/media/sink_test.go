package media

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSink(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WriteFile("a.jpg", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("a.jpg", []byte("second")); err != nil {
		t.Fatal(err)
	}
	for _, chunk := range []string{"one", "two"} {
		if err := s.Append("v.h264", []byte(chunk)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "a.jpg"))
	if err != nil || string(got) != "second" {
		t.Errorf("a.jpg: got %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(dir, "v.h264"))
	if err != nil || string(got) != "onetwo" {
		t.Errorf("v.h264: got %q, %v", got, err)
	}
}

func TestFileSinkStaysInDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("../escape.jpg", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.jpg")); err != nil {
		t.Errorf("file not written inside sink dir: %v", err)
	}
}
