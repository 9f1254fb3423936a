// Package command speaks the device's JSON command protocol: it names the
// command codes, builds and sends requests, and routes reassembled responses
// to handlers by command code.
package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Code is a device command code carried in both the package header and the
// JSON envelope.
type Code uint16

// Command codes.
const (
	Heartbeat   Code = 0x01
	SettingsGet Code = 0x02
	Reboot      Code = 0x03
	Reset       Code = 0x04

	OTA         Code = 0x11
	OTAProgress Code = 0x12

	SDCardGet    Code = 0x16
	SDCardFormat Code = 0x17
	SDCardPop    Code = 0x18
	SDCardStatus Code = 0x19

	TimezoneSet  Code = 0x51
	FillLightSet Code = 0x52
	LEDLightSet  Code = 0x53
	AISet        Code = 0x54
	PrivacySet   Code = 0x55

	VideoStart Code = 0x101
	VideoStop  Code = 0x102
	AudioStart Code = 0x103
	AudioStop  Code = 0x104
	MicSet     Code = 0x105
	TalkSet    Code = 0x106

	VideoGetParams     Code = 0x111
	VideoResolutionSet Code = 0x112
	VideoMirrorSet     Code = 0x113
	VideoWatermark     Code = 0x114
	VideoMode          Code = 0x115
	RemoteMotionGet    Code = 0x116
	RemoteMotionSet    Code = 0x117

	PlaybackStart     Code = 0x201
	PlaybackStop      Code = 0x202
	PlaybackCtrl      Code = 0x203
	RecordEndPlayback Code = 0x204
	RecordSettingsGet Code = 0x205
	RecordSettingsSet Code = 0x206
	RecordListGet     Code = 0x207

	TimelapseGet      Code = 0x301
	TimelapseSet      Code = 0x302
	TimelapseList     Code = 0x303
	TimelapseDownload Code = 0x304

	AutoPhotoGet Code = 0x311
	AutoPhotoSet Code = 0x312
	SnapshotImg  Code = 0x313
)

var defs = map[Code]string{
	Heartbeat:          "JSON_CMD_HEARTBEAT",
	SettingsGet:        "JSON_CMD_SETTINGS_GET",
	Reboot:             "JSON_CMD_REBOOT",
	Reset:              "JSON_CMD_RESET",
	OTA:                "JSON_CMD_OTA",
	OTAProgress:        "JSON_CMD_OTA_PROGRESS",
	SDCardGet:          "JSON_CMD_SDCARD_GET",
	SDCardFormat:       "JSON_CMD_SDCARD_FORMAT",
	SDCardPop:          "JSON_CMD_SDCARD_POP",
	SDCardStatus:       "JSON_CMD_SDCARD_STATUS",
	TimezoneSet:        "JSON_CMD_TIMEZONE_SET",
	FillLightSet:       "JSON_CMD_FILLLIGHT_SET",
	LEDLightSet:        "JSON_CMD_LEDLIGHT_SET",
	AISet:              "JSON_CMD_AI_SET",
	PrivacySet:         "JSON_CMD_PRIVACY_SET",
	VideoStart:         "JSON_CMD_VIDEO_START",
	VideoStop:          "JSON_CMD_VIDEO_STOP",
	AudioStart:         "JSON_CMD_AUDIO_START",
	AudioStop:          "JSON_CMD_AUDIO_STOP",
	MicSet:             "JSON_CMD_MIC_SET",
	TalkSet:            "JSON_CMD_TALK_SET",
	VideoGetParams:     "JSON_CMD_VIDEO_GET_PARAMS",
	VideoResolutionSet: "JSON_CMD_VIDEO_RESOLUTION_SET",
	VideoMirrorSet:     "JSON_CMD_VIDEO_MIRROR_SET",
	VideoWatermark:     "JSON_CMD_VIDEO_WATERMARK",
	VideoMode:          "JSON_CMD_VIDEOMODE",
	RemoteMotionGet:    "JSON_CMD_REMOTE_MOTION_GET",
	RemoteMotionSet:    "JSON_CMD_REMOTE_MOTION_SET",
	PlaybackStart:      "JSON_CMD_PLAYBACK_START",
	PlaybackStop:       "JSON_CMD_PLAYBACK_STOP",
	PlaybackCtrl:       "JSON_CMD_PLAYBACK_CTRL",
	RecordEndPlayback:  "JSON_CMD_RECORD_END_PLAYBACK",
	RecordSettingsGet:  "JSON_CMD_RECORD_SETTINGS_GET",
	RecordSettingsSet:  "JSON_CMD_RECORD_SETTINGS_SET",
	RecordListGet:      "JSON_CMD_RECORD_LIST_GET",
	TimelapseGet:       "JSON_CMD_TIMELAPSE_GET",
	TimelapseSet:       "JSON_CMD_TIMELAPSE_SET",
	TimelapseList:      "JSON_CMD_TIMELAPSE_LIST",
	TimelapseDownload:  "JSON_CMD_TIMELAPSE_DOWNLOAD",
	AutoPhotoGet:       "JSON_CMD_AUTOPHOTO_GET",
	AutoPhotoSet:       "JSON_CMD_AUTOPHOTO_SET",
	SnapshotImg:        "JSON_CMD_SNAPSHOT_IMG",
}

var byDef = func() map[string]Code {
	m := make(map[string]Code, len(defs))
	for c, d := range defs {
		m[d] = c
	}
	return m
}()

// Def returns the symbolic name sent in the request's "def" field, or ""
// for an unknown code.
func (c Code) Def() string { return defs[c] }

// Known reports whether c is a documented command code.
func (c Code) Known() bool {
	_, ok := defs[c]
	return ok
}

func (c Code) String() string {
	if d, ok := defs[c]; ok {
		return d
	}
	return fmt.Sprintf("0x%x", uint16(c))
}

// ParseCode accepts a symbolic name with or without the JSON_CMD_ prefix
// ("VIDEO_START", "json_cmd_video_start") or a number ("0x101", "257").
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 0, 16); err == nil {
		return Code(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "JSON_CMD_") {
		name = "JSON_CMD_" + name
	}
	if c, ok := byDef[name]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("command: unknown command %q", s)
}
