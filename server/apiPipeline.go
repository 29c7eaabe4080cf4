package server

import (
	"errors"
	"image/png"
	"net/http"

	"github.com/cyclopcam/lookout/pkg/imagex"
	"github.com/cyclopcam/lookout/server/feed"
	"github.com/cyclopcam/lookout/server/overlay"
	"github.com/cyclopcam/lookout/server/pipeline"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpPipelineStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	www.SendJSON(w, s.pipeline.Status())
}

func (s *Server) httpPipelineDevices(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.pipeline.Devices())
}

func (s *Server) httpPipelineStartDetection(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	err := s.pipeline.StartDetection()
	if errors.Is(err, pipeline.ErrNotReady) {
		www.Panic(http.StatusConflict, err.Error())
	}
	www.Check(err)
	www.SendOK(w)
}

func (s *Server) httpPipelineStopDetection(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.pipeline.StopDetection()
	www.SendOK(w)
}

// Re-acquire the camera, and return the new status
func (s *Server) httpPipelineRetry(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.pipeline.Retry(r.Context())
	www.SendJSON(w, s.pipeline.Status())
}

// Latest camera frame as JPEG. With ?overlay=1 the detection overlay is drawn on top.
func (s *Server) httpPipelineFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	frame := s.pipeline.Frame()
	if frame == nil {
		www.Panic(http.StatusServiceUnavailable, "Camera is not ready")
	}
	img := frame.Image
	if www.QueryValue(r, "overlay") == "1" {
		img = overlay.Composite(frame.Image, s.pipeline.Monitor().Overlay())
	}
	jpg, err := imagex.EncodeJPEG(img, 0)
	www.Check(err)
	w.Header().Set("Content-Type", "image/jpeg")
	www.CacheNever(w)
	w.Write(jpg)
}

// The transparent overlay layer, sized to the camera frame
func (s *Server) httpPipelineOverlay(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	layer := s.pipeline.Monitor().Overlay()
	if layer.Rect.Empty() {
		www.Panic(http.StatusServiceUnavailable, "Overlay is not ready")
	}
	w.Header().Set("Content-Type", "image/png")
	www.CacheNever(w)
	www.Check(png.Encode(w, layer))
}

func (s *Server) httpPipelineFeed(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpPipelineFeed websocket upgrade failed: %v", err)
		return
	}
	feed.Run(s.Log, conn, s.pipeline.Monitor(), s.shutdown)
}
