package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/lookout/server/historydb"
)

// ValidationErrors maps a field path (eg "detections.0.confidence") to its error messages.
// Fields are remembered in the order that they failed.
type ValidationErrors struct {
	order  []string
	fields map[string][]string
}

func (v *ValidationErrors) Add(field, format string, args ...any) {
	if v.fields == nil {
		v.fields = map[string][]string{}
	}
	if _, ok := v.fields[field]; !ok {
		v.order = append(v.order, field)
	}
	msg := fmt.Sprintf("The %v field ", field) + fmt.Sprintf(format, args...)
	v.fields[field] = append(v.fields[field], msg)
}

func (v *ValidationErrors) Empty() bool {
	return len(v.order) == 0
}

// Message summarizes the errors, eg "The timestamp field is required. (and 2 more errors)"
func (v *ValidationErrors) Message() string {
	if v.Empty() {
		return ""
	}
	msg := v.fields[v.order[0]][0]
	n := 0
	for _, f := range v.order {
		n += len(v.fields[f])
	}
	switch n {
	case 1:
		return msg
	case 2:
		return msg + " (and 1 more error)"
	}
	return fmt.Sprintf("%v (and %v more errors)", msg, n-1)
}

func (v *ValidationErrors) Fields() map[string][]string {
	return v.fields
}

// SYNC-SAVE-REQUEST-JSON
type saveRequestJSON struct {
	Detections json.RawMessage `json:"detections"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Snapshot   bool            `json:"snapshot"` // Store the current annotated frame with the record
}

// Accepted date formats for the timestamp field
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func isBlank(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

// numeric accepts a JSON number, or a string holding a finite number
func numeric(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// validateSaveRequest checks every field, and returns all failures together
func validateSaveRequest(req *saveRequestJSON) ([]historydb.StoredDetection, time.Time, *ValidationErrors) {
	verr := &ValidationErrors{}
	var detections []historydb.StoredDetection

	var items []json.RawMessage
	if isBlank(req.Detections) {
		verr.Add("detections", "is required.")
	} else if err := json.Unmarshal(req.Detections, &items); err != nil {
		verr.Add("detections", "must be an array.")
	} else if len(items) == 0 {
		verr.Add("detections", "is required.")
	}

	for i, item := range items {
		prefix := fmt.Sprintf("detections.%v.", i)
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(item, &fields); err != nil {
			fields = map[string]json.RawMessage{}
		}
		det := historydb.StoredDetection{}

		if raw := fields["class"]; isBlank(raw) {
			verr.Add(prefix+"class", "is required.")
		} else if err := json.Unmarshal(raw, &det.Class); err != nil {
			verr.Add(prefix+"class", "must be a string.")
		}

		if raw := fields["confidence"]; isBlank(raw) {
			verr.Add(prefix+"confidence", "is required.")
		} else if c, ok := numeric(raw); !ok {
			verr.Add(prefix+"confidence", "must be a number.")
		} else if c < 0 {
			verr.Add(prefix+"confidence", "must be at least 0.")
		} else if c > 1 {
			verr.Add(prefix+"confidence", "must not be greater than 1.")
		} else {
			det.Confidence = c
		}

		var bbox []json.RawMessage
		if raw := fields["bbox"]; isBlank(raw) {
			verr.Add(prefix+"bbox", "is required.")
		} else if err := json.Unmarshal(raw, &bbox); err != nil {
			verr.Add(prefix+"bbox", "must be an array.")
		} else if len(bbox) == 0 {
			verr.Add(prefix+"bbox", "is required.")
		} else {
			for _, v := range bbox {
				f, ok := numeric(v)
				if !ok {
					verr.Add(prefix+"bbox", "must contain only numbers.")
					break
				}
				det.BBox = append(det.BBox, f)
			}
		}

		detections = append(detections, det)
	}

	var timestamp time.Time
	var tsString string
	if isBlank(req.Timestamp) {
		verr.Add("timestamp", "is required.")
	} else if err := json.Unmarshal(req.Timestamp, &tsString); err != nil {
		verr.Add("timestamp", "must be a valid date.")
	} else if t, ok := parseTimestamp(tsString); !ok {
		verr.Add("timestamp", "must be a valid date.")
	} else {
		timestamp = t
	}

	if !verr.Empty() {
		return nil, time.Time{}, verr
	}
	return detections, timestamp, nil
}
