package historydb

import (
	"time"

	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// A batch of detections that the user chose to save
// SYNC-DETECTION-RECORD
type DetectionRecord struct {
	BaseModel
	Timestamp  dbh.IntTime                       `json:"timestamp"`                              // Capture time reported by the client
	SavedAt    dbh.IntTime                       `json:"savedAt"`                                // Server time at which the record was written
	Detections *dbh.JSONField[[]StoredDetection] `json:"detections"`                             // Objects in the frame
	Snapshot   string                            `json:"snapshot,omitempty" gorm:"default:null"` // Storage key of the annotated frame, if any
}

func (r *DetectionRecord) Time() time.Time {
	return r.Timestamp.Get()
}

// Objects returns the stored detections, or an empty slice
func (r *DetectionRecord) Objects() []StoredDetection {
	if r.Detections == nil || r.Detections.Data == nil {
		return []StoredDetection{}
	}
	return r.Detections.Data
}

// SYNC-STORED-DETECTION
type StoredDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x, y, width, height]
}
