package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyclopcam/lookout/server/historydb"
	"github.com/cyclopcam/lookout/server/registry"
	"github.com/cyclopcam/lookout/server/snapshots"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

const maxSaveBodyBytes = 1024 * 1024

// Everything the detection page needs to draw its legend and poll the server
// SYNC-DETECTION-CONFIG-JSON
type detectionConfigJSON struct {
	Title            string            `json:"title"`
	Locale           string            `json:"locale"`
	SupportedObjects []registry.Object `json:"supportedObjects"`
	ScoreThreshold   float32           `json:"scoreThreshold"`
	IntervalMS       int               `json:"intervalMS"`
}

func (s *Server) httpDetectionConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	locale := s.config.Locale
	if locale == "" {
		locale = registry.LocaleIndonesian
	}
	interval := s.config.Detection.IntervalMS
	if interval <= 0 {
		interval = 500
	}
	www.SendJSON(w, &detectionConfigJSON{
		Title:            "Object Detection System",
		Locale:           locale,
		SupportedObjects: s.registry.Objects(),
		ScoreThreshold:   registry.ScoreThreshold,
		IntervalMS:       interval,
	})
}

// SYNC-SAVE-RESPONSE-JSON
type saveResponseJSON struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    *saveResponseData   `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

type saveResponseData struct {
	ID              int64           `json:"id"`
	DetectionsCount int             `json:"detections_count"`
	Timestamp       json.RawMessage `json:"timestamp"` // Echo of the submitted value
	Snapshot        string          `json:"snapshot,omitempty"`
}

func sendJSONStatus(w http.ResponseWriter, code int, obj any) {
	b, err := json.Marshal(obj)
	www.Check(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func (s *Server) httpDetectionSave(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := saveRequestJSON{}
	www.ReadJSON(w, r, &req, maxSaveBodyBytes)

	detections, timestamp, verr := validateSaveRequest(&req)
	if verr != nil {
		sendJSONStatus(w, http.StatusUnprocessableEntity, &saveResponseJSON{
			Success: false,
			Message: verr.Message(),
			Errors:  verr.Fields(),
		})
		return
	}

	rec, err := s.history.Save(timestamp, detections)
	www.Check(err)

	data := &saveResponseData{
		ID:              rec.ID,
		DetectionsCount: len(detections),
		Timestamp:       req.Timestamp,
	}
	if req.Snapshot {
		if key, err := s.saveSnapshot(rec); err != nil {
			s.Log.Warnf("Failed to save snapshot for detection record %v: %v", rec.ID, err)
		} else {
			data.Snapshot = snapshotLink(rec.ID)
			s.Log.Infof("Saved snapshot %v", key)
		}
	}

	www.SendJSON(w, &saveResponseJSON{
		Success: true,
		Message: "Detection results saved successfully",
		Data:    data,
	})
}

func (s *Server) saveSnapshot(rec *historydb.DetectionRecord) (string, error) {
	if s.snapshots == nil {
		return "", snapshots.ErrNotConfigured
	}
	img := s.pipeline.Monitor().Snapshot()
	if img == nil {
		return "", errors.New("no annotated frame available")
	}
	key, err := s.snapshots.Save(rec.ID, rec.Time(), img)
	if err != nil {
		return "", err
	}
	if err := s.history.SetSnapshot(rec.ID, key); err != nil {
		return "", err
	}
	return key, nil
}

func snapshotLink(id int64) string {
	return fmt.Sprintf("/api/detection/history/%v/snapshot", id)
}

// SYNC-HISTORY-JSON
type historyItemJSON struct {
	ID         int64                  `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Detections []historyDetectionJSON `json:"detections"`
	Snapshot   string                 `json:"snapshot,omitempty"`
}

type historyDetectionJSON struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

type historyJSON struct {
	History []historyItemJSON `json:"history"`
}

func (s *Server) httpDetectionHistory(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	records, err := s.history.List(www.QueryInt(r, "limit"))
	www.Check(err)

	out := historyJSON{History: []historyItemJSON{}}
	for _, rec := range records {
		item := historyItemJSON{
			ID:         rec.ID,
			Timestamp:  rec.Time(),
			Detections: []historyDetectionJSON{},
		}
		for _, d := range rec.Objects() {
			item.Detections = append(item.Detections, historyDetectionJSON{
				Class:      d.Class,
				Confidence: d.Confidence,
			})
		}
		if rec.Snapshot != "" {
			item.Snapshot = snapshotLink(rec.ID)
		}
		out.History = append(out.History, item)
	}
	www.CacheNever(w)
	www.SendJSON(w, &out)
}

func (s *Server) httpDetectionSnapshot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("id"))
	rec, err := s.history.Get(id)
	if errors.Is(err, historydb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	if rec.Snapshot == "" || s.snapshots == nil {
		www.PanicNotFound()
	}

	// Public buckets can serve the file directly
	if url, err := s.snapshots.URL(rec.Snapshot); err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	f, err := s.snapshots.Open(rec.Snapshot)
	www.Check(err)
	defer f.Reader.Close()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%v", f.Size))
	www.CacheImmutable(w)
	io.Copy(w, f.Reader)
}
