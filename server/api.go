package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	// unprotected creates an HTTP handler that runs inside www's panic handler
	unprotected := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// ratelimited limits the number of requests per IP. Each route gets its own limiter.
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	unprotected("GET", "/", s.httpIndex)
	unprotected("GET", "/api/ping", s.httpPing)

	// The detection page itself is index.html, served by the static file handler
	unprotected("GET", "/api/detection/config", s.httpDetectionConfig)
	ratelimited("POST", "/detection", s.httpDetectionSave, 60, time.Minute)
	ratelimited("POST", "/api/detection/save", s.httpDetectionSave, 60, time.Minute)
	unprotected("GET", "/detection/history", s.httpDetectionHistory)
	unprotected("GET", "/api/detection/history", s.httpDetectionHistory)
	unprotected("GET", "/api/detection/history/:id/snapshot", s.httpDetectionSnapshot)

	unprotected("GET", "/api/pipeline/status", s.httpPipelineStatus)
	unprotected("GET", "/api/pipeline/devices", s.httpPipelineDevices)
	unprotected("POST", "/api/pipeline/detection/start", s.httpPipelineStartDetection)
	unprotected("POST", "/api/pipeline/detection/stop", s.httpPipelineStopDetection)
	ratelimited("POST", "/api/pipeline/camera/retry", s.httpPipelineRetry, 10, time.Minute)
	unprotected("GET", "/api/pipeline/frame.jpg", s.httpPipelineFrame)
	unprotected("GET", "/api/pipeline/overlay.png", s.httpPipelineOverlay)
	unprotected("GET", "/api/pipeline/feed", s.httpPipelineFeed)

	isImmutable := true
	var fsys fs.FS
	fsysRoot := "www"
	fsys = staticWWW
	if s.HotReloadWWW {
		relRoot := "server/www"
		absRoot, err := filepath.Abs(relRoot)
		if err != nil {
			s.Log.Errorf("Failed to resolve static file directory %v: %v", relRoot, err)
			return errors.New("Failed to resolve static file directory for hot reload")
		}
		s.Log.Infof("Serving static files from %v, with hot reload", absRoot)
		fsys = os.DirFS(absRoot)
		fsysRoot = ""
		isImmutable = false
	}

	static, err := staticfiles.NewCachedStaticFileServer(fsys, fsysRoot, []string{"/api/"}, s.Log, isImmutable, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
		// POST /detection exists, so without this httprouter would answer GET with 405
		unprotected("GET", "/detection", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			static.ServeHTTP(w, r)
		})
	}

	s.httpRouter = router
	return nil
}

func (s *Server) httpIndex(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	http.Redirect(w, r, "/detection", http.StatusFound)
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type pingJSON struct {
		Time int64 `json:"time"`
	}
	ping := &pingJSON{
		Time: time.Now().Unix(),
	}
	www.SendJSON(w, ping)
}
