package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func parseSaveRequest(t *testing.T, body string) *saveRequestJSON {
	req := &saveRequestJSON{}
	require.NoError(t, json.Unmarshal([]byte(body), req))
	return req
}

func TestValidateSaveRequest(t *testing.T) {
	req := parseSaveRequest(t, `{
		"detections": [
			{"class": "person", "confidence": 0.91, "bbox": [10, 20, 30, 40]},
			{"class": "bottle", "confidence": "0.5", "bbox": ["1", 2, 3.5, 4]}
		],
		"timestamp": "2026-03-01T10:00:00.123Z"
	}`)
	dets, ts, verr := validateSaveRequest(req)
	require.Nil(t, verr)
	require.Len(t, dets, 2)
	require.Equal(t, "person", dets[0].Class)
	require.Equal(t, 0.91, dets[0].Confidence)
	require.Equal(t, []float64{1, 2, 3.5, 4}, dets[1].BBox)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 123000000, time.UTC), ts.UTC())
}

func TestValidateSaveRequestBoundaries(t *testing.T) {
	for _, c := range []string{"0", "1", "0.0", "1.0"} {
		req := parseSaveRequest(t, `{"detections":[{"class":"book","confidence":`+c+`,"bbox":[0,0,1,1]}],"timestamp":"2026-01-01"}`)
		_, _, verr := validateSaveRequest(req)
		require.Nil(t, verr, "confidence %v", c)
	}
}

func TestValidateSaveRequestFailures(t *testing.T) {
	cases := []struct {
		body   string
		field  string
		expect string
	}{
		{`{"timestamp":"2026-01-01"}`, "detections", "The detections field is required."},
		{`{"detections":[],"timestamp":"2026-01-01"}`, "detections", "The detections field is required."},
		{`{"detections":"cup","timestamp":"2026-01-01"}`, "detections", "The detections field must be an array."},
		{`{"detections":[{"confidence":0.5,"bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.class", "The detections.0.class field is required."},
		{`{"detections":[{"class":7,"confidence":0.5,"bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.class", "The detections.0.class field must be a string."},
		{`{"detections":[{"class":"cup","bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.confidence", "The detections.0.confidence field is required."},
		{`{"detections":[{"class":"cup","confidence":"high","bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.confidence", "The detections.0.confidence field must be a number."},
		{`{"detections":[{"class":"cup","confidence":"NaN","bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.confidence", "The detections.0.confidence field must be a number."},
		{`{"detections":[{"class":"cup","confidence":"Inf","bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.confidence", "The detections.0.confidence field must be a number."},
		{`{"detections":[{"class":"cup","confidence":0.5,"bbox":[1,"NaN"]}],"timestamp":"2026-01-01"}`, "detections.0.bbox", "The detections.0.bbox field must contain only numbers."},
		{`{"detections":[{"class":"cup","confidence":-0.1,"bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.confidence", "The detections.0.confidence field must be at least 0."},
		{`{"detections":[{"class":"cup","confidence":1.01,"bbox":[1]}],"timestamp":"2026-01-01"}`, "detections.0.confidence", "The detections.0.confidence field must not be greater than 1."},
		{`{"detections":[{"class":"cup","confidence":0.5}],"timestamp":"2026-01-01"}`, "detections.0.bbox", "The detections.0.bbox field is required."},
		{`{"detections":[{"class":"cup","confidence":0.5,"bbox":{"x":1}}],"timestamp":"2026-01-01"}`, "detections.0.bbox", "The detections.0.bbox field must be an array."},
		{`{"detections":[{"class":"cup","confidence":0.5,"bbox":[1,"x"]}],"timestamp":"2026-01-01"}`, "detections.0.bbox", "The detections.0.bbox field must contain only numbers."},
		{`{"detections":[{"class":"cup","confidence":0.5,"bbox":[1]}]}`, "timestamp", "The timestamp field is required."},
		{`{"detections":[{"class":"cup","confidence":0.5,"bbox":[1]}],"timestamp":"yesterday"}`, "timestamp", "The timestamp field must be a valid date."},
		{`{"detections":[{"class":"cup","confidence":0.5,"bbox":[1]}],"timestamp":12345}`, "timestamp", "The timestamp field must be a valid date."},
	}
	for _, c := range cases {
		_, _, verr := validateSaveRequest(parseSaveRequest(t, c.body))
		require.NotNil(t, verr, c.body)
		require.Equal(t, []string{c.expect}, verr.Fields()[c.field], c.body)
		require.Equal(t, c.expect, verr.Message(), c.body)
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	req := parseSaveRequest(t, `{"detections":[{"class":"","confidence":2,"bbox":[]},{"class":"cup","confidence":0.1,"bbox":[1]}]}`)
	_, _, verr := validateSaveRequest(req)
	require.NotNil(t, verr)
	require.Equal(t, "The detections.0.class field is required. (and 3 more errors)", verr.Message())
	require.Len(t, verr.Fields(), 4)
	require.NotContains(t, verr.Fields(), "detections.1.class")
}
