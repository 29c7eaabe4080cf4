package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/server/camera"
	"github.com/cyclopcam/lookout/server/pipeline"
	"github.com/stretchr/testify/require"
)

type testStream struct {
	closed chan struct{}
	once   sync.Once
}

func (s *testStream) ReadFrame() (image.Image, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	case <-time.After(5 * time.Millisecond):
	}
	return image.NewRGBA(image.Rect(0, 0, 320, 240)), nil
}

func (s *testStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type testBackend struct {
	openErr error
}

func (b *testBackend) Open(ctx context.Context, c camera.Constraints) (camera.Stream, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &testStream{closed: make(chan struct{})}, nil
}

func (b *testBackend) Devices() []camera.DeviceInfo {
	return []camera.DeviceInfo{{ID: "video0", Label: "Test camera", Facing: camera.FacingEnvironment}}
}

type testServer struct {
	t      *testing.T
	server *Server
	http   *httptest.Server
}

func newTestServer(t *testing.T, backend camera.Backend) *testServer {
	cfg := DefaultConfig(t.TempDir())
	cfg.Detection.IntervalMS = 10
	s, err := NewServerWithBackend(logs.NewTestingLog(t), cfg, ServerFlagSynthetic, backend)
	require.NoError(t, err)
	ts := &testServer{
		t:      t,
		server: s,
		http:   httptest.NewServer(s.Handler()),
	}
	t.Cleanup(func() {
		ts.http.Close()
		s.Shutdown()
	})
	require.Eventually(t, func() bool {
		return s.Pipeline().Status().Initialized
	}, 5*time.Second, 5*time.Millisecond)
	return ts
}

func (ts *testServer) do(method, path string, body any) (int, []byte) {
	var reader io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			reader = bytes.NewReader([]byte(raw))
		} else {
			b, err := json.Marshal(body)
			require.NoError(ts.t, err)
			reader = bytes.NewReader(b)
		}
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(ts.t, err)
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp.StatusCode, respBody
}

func (ts *testServer) doJSON(method, path string, body any, out any) int {
	code, raw := ts.do(method, path, body)
	if out != nil {
		require.NoError(ts.t, json.Unmarshal(raw, out), string(raw))
	}
	return code
}

func TestPages(t *testing.T) {
	ts := newTestServer(t, &testBackend{})

	req, _ := http.NewRequest("GET", ts.http.URL+"/", nil)
	resp, err := (&http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/detection", resp.Header.Get("Location"))

	code, page := ts.do("GET", "/detection", nil)
	require.Equal(t, 200, code)
	require.Contains(t, string(page), "Object Detection System")

	cfg := detectionConfigJSON{}
	require.Equal(t, 200, ts.doJSON("GET", "/api/detection/config", nil, &cfg))
	require.Len(t, cfg.SupportedObjects, 6)
	require.Equal(t, "wajah", cfg.SupportedObjects[0].DisplayName)
	require.Equal(t, 10, cfg.IntervalMS)
}

func TestSaveAndHistory(t *testing.T) {
	ts := newTestServer(t, &testBackend{})

	resp := saveResponseJSON{}
	code := ts.doJSON("POST", "/api/detection/save", map[string]any{
		"detections": []map[string]any{
			{"class": "person", "confidence": 0.95, "bbox": []float64{1, 2, 3, 4}},
			{"class": "cell phone", "confidence": "0.87", "bbox": []float64{5, 6, 7, 8}},
		},
		"timestamp": "2026-03-01T10:00:00Z",
	}, &resp)
	require.Equal(t, 200, code)
	require.True(t, resp.Success)
	require.Equal(t, "Detection results saved successfully", resp.Message)
	require.Equal(t, 2, resp.Data.DetectionsCount)
	require.JSONEq(t, `"2026-03-01T10:00:00Z"`, string(resp.Data.Timestamp))

	// The legacy route behaves identically
	code = ts.doJSON("POST", "/detection", map[string]any{
		"detections": []map[string]any{{"class": "book", "confidence": 0.5, "bbox": []float64{0, 0, 1, 1}}},
		"timestamp":  "2026-03-01 11:00:00",
	}, &resp)
	require.Equal(t, 200, code)

	history := historyJSON{}
	require.Equal(t, 200, ts.doJSON("GET", "/api/detection/history", nil, &history))
	require.Len(t, history.History, 2)
	require.Equal(t, "book", history.History[0].Detections[0].Class)
	require.Equal(t, 2, len(history.History[1].Detections))
	require.Equal(t, 0.87, history.History[1].Detections[1].Confidence)

	legacy := historyJSON{}
	require.Equal(t, 200, ts.doJSON("GET", "/detection/history?limit=1", nil, &legacy))
	require.Len(t, legacy.History, 1)
}

func TestSaveValidation(t *testing.T) {
	ts := newTestServer(t, &testBackend{})

	resp := saveResponseJSON{}
	code := ts.doJSON("POST", "/api/detection/save", map[string]any{
		"detections": []map[string]any{{"class": "person", "confidence": 1.5, "bbox": []float64{1, 2, 3, 4}}},
		"timestamp":  "2026-03-01T10:00:00Z",
	}, &resp)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.False(t, resp.Success)
	require.Equal(t, []string{"The detections.0.confidence field must not be greater than 1."}, resp.Errors["detections.0.confidence"])

	code = ts.doJSON("POST", "/api/detection/save", map[string]any{
		"detections": []map[string]any{{"class": "person", "confidence": "NaN", "bbox": []float64{1, 2, 3, 4}}},
		"timestamp":  "2026-03-01T10:00:00Z",
	}, &resp)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Contains(t, resp.Errors, "detections.0.confidence")

	code = ts.doJSON("POST", "/api/detection/save", map[string]any{}, &resp)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "The detections field is required. (and 1 more error)", resp.Message)

	// Nothing was stored
	history := historyJSON{}
	ts.doJSON("GET", "/api/detection/history", nil, &history)
	require.Empty(t, history.History)

	// Malformed JSON is a bad request, not a validation failure
	code, _ = ts.do("POST", "/api/detection/save", "{not json")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestPipelineRoutes(t *testing.T) {
	ts := newTestServer(t, &testBackend{})

	status := pipeline.Status{}
	require.Equal(t, 200, ts.doJSON("GET", "/api/pipeline/status", nil, &status))
	require.Equal(t, pipeline.CameraReady, status.Camera.State)
	require.True(t, status.Model.Degraded)
	require.False(t, status.Detecting)

	devices := []camera.DeviceInfo{}
	require.Equal(t, 200, ts.doJSON("GET", "/api/pipeline/devices", nil, &devices))
	require.Len(t, devices, 1)

	code, jpg := ts.do("GET", "/api/pipeline/frame.jpg", nil)
	require.Equal(t, 200, code)
	require.Equal(t, []byte{0xff, 0xd8}, jpg[:2])

	code, _ = ts.do("POST", "/api/pipeline/detection/start", nil)
	require.Equal(t, 200, code)
	require.Equal(t, 200, ts.doJSON("GET", "/api/pipeline/status", nil, &status))
	require.True(t, status.Detecting)

	// Wait for a tick, so that there is an overlay and a snapshot
	mon := ts.server.Pipeline().Monitor()
	require.Eventually(t, func() bool { return mon.Snapshot() != nil }, 5*time.Second, 5*time.Millisecond)
	code, pngData := ts.do("GET", "/api/pipeline/overlay.png", nil)
	require.Equal(t, 200, code)
	require.Equal(t, []byte("\x89PNG"), pngData[:4])

	resp := saveResponseJSON{}
	code = ts.doJSON("POST", "/api/detection/save", map[string]any{
		"detections": []map[string]any{{"class": "cup", "confidence": 0.7, "bbox": []float64{1, 2, 3, 4}}},
		"timestamp":  "2026-03-01",
		"snapshot":   true,
	}, &resp)
	require.Equal(t, 200, code)
	require.NotEmpty(t, resp.Data.Snapshot)
	code, snap := ts.do("GET", resp.Data.Snapshot, nil)
	require.Equal(t, 200, code)
	require.Equal(t, []byte{0xff, 0xd8}, snap[:2])

	code, _ = ts.do("GET", "/api/detection/history/9999/snapshot", nil)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do("POST", "/api/pipeline/detection/stop", nil)
	require.Equal(t, 200, code)
	require.Equal(t, 200, ts.doJSON("GET", "/api/pipeline/status", nil, &status))
	require.False(t, status.Detecting)
	require.Empty(t, status.Detections.Objects)
}

func TestCameraPermissionDenied(t *testing.T) {
	ts := newTestServer(t, &testBackend{openErr: syscall.EACCES})

	status := pipeline.Status{}
	require.Equal(t, 200, ts.doJSON("GET", "/api/pipeline/status", nil, &status))
	require.Equal(t, pipeline.CameraError, status.Camera.State)
	require.Equal(t, "PermissionDenied", status.Camera.ErrorKind)

	code, body := ts.do("POST", "/api/pipeline/detection/start", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, string(body), "camera or model not ready")

	code, _ = ts.do("GET", "/api/pipeline/frame.jpg", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)

	require.Equal(t, 200, ts.doJSON("POST", "/api/pipeline/camera/retry", nil, &status))
	require.Equal(t, pipeline.CameraError, status.Camera.State)
}
