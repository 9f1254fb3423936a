package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
)

// ErrNoData is returned when a response that must carry data has none.
var ErrNoData = errors.New("command: response has no data")

// SDCard is the storage status reported in the device settings.
type SDCard struct {
	Status   int `json:"sdStatus"`
	Capacity int `json:"capacity"`
	Usage    int `json:"usage"`
}

// Settings is the subset of the device settings peerlink keeps.
type Settings struct {
	Name            string  `json:"devName"`
	Type            int     `json:"devType"`
	MAC             string  `json:"devMacAddr"`
	FirmwareVersion string  `json:"firmwareVersion"`
	HardwareVersion string  `json:"hardwareVersion"`
	SDCard          *SDCard `json:"sdcode,omitempty"`
}

// Record is one entry of the device's recording list. Start and End hold
// unix seconds when the device sends numbers; StartText and EndText hold the
// value when it sends strings.
type Record struct {
	Start     int64  `json:"start,omitempty"`
	End       int64  `json:"end,omitempty"`
	StartText string `json:"startText,omitempty"`
	EndText   string `json:"endText,omitempty"`
	Type      int    `json:"recType"`
	Size      uint32 `json:"size"`
	FrameRate int    `json:"frameRate"`
	CodeType  int    `json:"codeType"`
}

// Device keeps the last settings and record list the device reported.
type Device struct {
	log *slog.Logger

	mu       sync.RWMutex
	settings *Settings
	records  []Record
}

// NewDevice creates a Device and registers its handlers on r.
func NewDevice(r *Router, log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	d := &Device{log: log.With("component", "device")}
	r.Handle(SettingsGet, d.handleSettings)
	r.Handle(RecordListGet, d.handleRecordList)
	return d
}

// Settings returns the last reported settings, or nil.
func (d *Device) Settings() *Settings {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.settings == nil {
		return nil
	}
	s := *d.settings
	return &s
}

// Records returns a copy of the last reported record list.
func (d *Device) Records() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Record(nil), d.records...)
}

func (d *Device) handleSettings(resp Response) error {
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("%w: %s", ErrNoData, SettingsGet)
	}
	var s Settings
	if err := json.Unmarshal(resp.Data, &s); err != nil {
		return fmt.Errorf("command: settings: %w", err)
	}
	d.mu.Lock()
	d.settings = &s
	d.mu.Unlock()

	args := []any{"name", s.Name, "type", s.Type, "mac", s.MAC, "firmware", s.FirmwareVersion, "hardware", s.HardwareVersion}
	if s.SDCard != nil {
		args = append(args, "sdStatus", s.SDCard.Status, "sdCapacityMB", s.SDCard.Capacity, "sdUsageMB", s.SDCard.Usage)
	}
	d.log.Info("device settings", args...)
	return nil
}

func (d *Device) handleRecordList(resp Response) error {
	var data struct {
		RecordList []map[string]json.RawMessage `json:"recordList"`
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("%w: %s", ErrNoData, RecordListGet)
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("command: record list: %w", err)
	}
	if data.RecordList == nil {
		return fmt.Errorf("%w: %s has no recordList", ErrNoData, RecordListGet)
	}

	records := make([]Record, 0, len(data.RecordList))
	skipped := 0
	for i, item := range data.RecordList {
		rec, ok := parseRecord(item)
		if !ok {
			skipped++
			d.log.Debug("record missing fields", "index", i)
			continue
		}
		d.log.Debug("record", "index", i, "record", rec.String())
		records = append(records, rec)
	}

	d.mu.Lock()
	d.records = records
	d.mu.Unlock()
	d.log.Info("record list", "records", len(records), "skipped", skipped)
	return nil
}

// field returns the first present key. Devices use both camelCase and
// snake_case names.
func field(item map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, n := range names {
		if v, ok := item[n]; ok {
			return v, true
		}
	}
	return nil, false
}

func parseRecord(item map[string]json.RawMessage) (Record, bool) {
	start, ok1 := field(item, "startTime", "start_time")
	end, ok2 := field(item, "endTime", "end_time")
	typ, ok3 := field(item, "recType", "record_type")
	size, ok4 := field(item, "size")
	rate, ok5 := field(item, "frameRate", "frame_rate")
	code, ok6 := field(item, "codeType", "code_type")
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return Record{}, false
	}

	var r Record
	r.Start, r.StartText = timeValue(start)
	r.End, r.EndText = timeValue(end)
	r.Type = intValue(typ, -1)
	r.Size = uint32(intValue(size, 0))
	r.FrameRate = intValue(rate, -1)
	r.CodeType = intValue(code, -1)
	return r, true
}

func timeValue(raw json.RawMessage) (int64, string) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return 0, s
	}
	return 0, ""
}

func intValue(raw json.RawMessage, def int) int {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return def
	}
	return int(f)
}

// String renders a record for logs.
func (r Record) String() string {
	start := r.StartText
	if start == "" {
		start = strconv.FormatInt(r.Start, 10)
	}
	end := r.EndText
	if end == "" {
		end = strconv.FormatInt(r.End, 10)
	}
	return fmt.Sprintf("%s-%s type=%d size=%d fps=%d codec=%d", start, end, r.Type, r.Size, r.FrameRate, r.CodeType)
}
