// Package media turns reassembled image and video entities into files and
// decoder input. It owns the per-type video stream lifecycle and the two
// packet handlers that drive the media assemblers.
package media

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamStopped means the stream was stopped and will not be
	// recreated for the life of the session.
	ErrStreamStopped = errors.New("media: stream stopped")
	// ErrBadStreamType means a stream type outside 1..5.
	ErrBadStreamType = errors.New("media: invalid stream type")
	// ErrEmptyEntity means an entity completed with no payload bytes.
	ErrEmptyEntity = errors.New("media: empty entity")
	// ErrNotSubHeader means a fragment flagged as carrying a sub-header
	// used a flag value other than 0 or 1.
	ErrNotSubHeader = errors.New("media: invalid sub-header flag")
)

// Codec is the video encoding carried in a video sub-header.
type Codec int8

// Video encodings.
const (
	CodecH264 Codec = 1
	CodecH265 Codec = 2
	CodecJPEG Codec = 3
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecJPEG:
		return "jpeg"
	}
	return fmt.Sprintf("codec(%d)", int8(c))
}

// Decodable reports whether frames of this codec go to a decoder rather
// than straight to disk.
func (c Codec) Decodable() bool {
	return c > 0 && c != CodecJPEG
}

// ImageFormat is the encoding carried in an image sub-header.
type ImageFormat int8

// Image encodings.
const (
	ImageJPEG ImageFormat = 1
	ImagePNG  ImageFormat = 2
)

// Ext returns the file extension for the format. Anything other than JPEG
// is written as PNG.
func (f ImageFormat) Ext() string {
	if f == ImageJPEG {
		return "jpg"
	}
	return "png"
}

// StreamType is the role of a video stream.
type StreamType int8

// Stream types.
const (
	StreamMain     StreamType = 1
	StreamSub      StreamType = 2
	StreamPlayback StreamType = 3
	StreamTalk     StreamType = 4
	StreamDownload StreamType = 5

	numStreamTypes = 5
)

// Valid reports whether t is one of the five known stream types.
func (t StreamType) Valid() bool {
	return t >= StreamMain && t <= StreamDownload
}

func (t StreamType) String() string {
	switch t {
	case StreamMain:
		return "main"
	case StreamSub:
		return "sub"
	case StreamPlayback:
		return "playback"
	case StreamTalk:
		return "talk"
	case StreamDownload:
		return "download"
	}
	return fmt.Sprintf("stream(%d)", int8(t))
}

// Title is the human-readable name used for display windows.
func (t StreamType) Title() string {
	switch t {
	case StreamMain:
		return "Main Stream"
	case StreamSub:
		return "Sub Stream"
	case StreamPlayback:
		return "Playback"
	case StreamTalk:
		return "Talk"
	case StreamDownload:
		return "Download"
	}
	return "Unknown"
}

// DefaultPrefix is prepended to video output filenames.
const DefaultPrefix = "output_video"

// ImageName is the filename for a completed image.
func ImageName(channel int8, pts uint64, f ImageFormat) string {
	return fmt.Sprintf("snapshot_ch%d_%d.%s", channel, pts, f.Ext())
}

// JPEGFrameName is the filename for one JPEG video frame.
func JPEGFrameName(prefix string, t StreamType, frame int64) string {
	return fmt.Sprintf("%s_stream%d_frame%06d.jpg", prefix, t, frame)
}

// StreamFileName is the elementary stream file that non-JPEG frames of a
// stream are appended to.
func StreamFileName(prefix string, t StreamType, c Codec) string {
	ext := "bin"
	switch c {
	case CodecH264:
		ext = "h264"
	case CodecH265:
		ext = "h265"
	}
	return fmt.Sprintf("%s_stream%d.%s", prefix, t, ext)
}

// dropLog rate-limits a recurring diagnostic: it fires on the first event and
// then on every 30th.
type dropLog struct {
	n int64
}

func (d *dropLog) hit() (count int64, emit bool) {
	d.n++
	return d.n, d.n == 1 || d.n%30 == 0
}
