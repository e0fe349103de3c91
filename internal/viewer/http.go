package viewer

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/fusion"
	"github.com/banshee-data/sweepscan/internal/httputil"
	"github.com/banshee-data/sweepscan/internal/monitoring"
)

// DefaultMaxPagePoints caps the points drawn by the 3-D page.
const DefaultMaxPagePoints = 20000

// HTTPViewer keeps the latest rendered cloud and serves it over HTTP.
type HTTPViewer struct {
	mu      sync.RWMutex
	points  []cloud.Point3D
	version uint64
	updated time.Time

	now func() time.Time
}

// NewHTTPViewer returns an empty viewer.
func NewHTTPViewer() *HTTPViewer {
	return &HTTPViewer{points: []cloud.Point3D{}, now: time.Now}
}

// Render stores points as the current cloud.
func (v *HTTPViewer) Render(points []cloud.Point3D) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.points = points
	v.version++
	v.updated = v.now()
}

// Points returns the current cloud and how many renders produced it.
func (v *HTTPViewer) Points() ([]cloud.Point3D, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.points, v.version
}

// CloudResponse is the body of GET /api/cloud.
type CloudResponse struct {
	Version uint64          `json:"version"`
	Updated time.Time       `json:"updated"`
	Status  fusion.Snapshot `json:"status"`
	Points  [][3]float64    `json:"points"`
}

// AttachRoutes registers the viewer pages and command endpoints on mux.
func (v *HTTPViewer) AttachRoutes(mux *http.ServeMux, ctrl Controller) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		v.handlePage(w, r, ctrl)
	})
	mux.HandleFunc("/api/cloud", func(w http.ResponseWriter, r *http.Request) {
		v.handleCloud(w, r, ctrl)
	})
	mux.HandleFunc("/api/cloud.png", v.handlePNG)
	for _, name := range []string{CommandReset, CommandToggle, CommandAdvance} {
		mux.HandleFunc("/api/"+name, func(w http.ResponseWriter, r *http.Request) {
			handleCommand(w, r, ctrl, name)
		})
	}
}

func (v *HTTPViewer) handleCloud(w http.ResponseWriter, r *http.Request, ctrl Controller) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	v.mu.RLock()
	resp := CloudResponse{
		Version: v.version,
		Updated: v.updated,
		Points:  pointTriples(v.points),
	}
	v.mu.RUnlock()
	resp.Status = ctrl.Snapshot()
	httputil.WriteJSONOK(w, resp)
}

func (v *HTTPViewer) handlePage(w http.ResponseWriter, r *http.Request, ctrl Controller) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	maxPoints := DefaultMaxPagePoints
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if n, err := strconv.Atoi(mp); err == nil && n >= 100 && n <= 200000 {
			maxPoints = n
		}
	}

	points, _ := v.Points()
	var buf bytes.Buffer
	if err := renderPage(&buf, points, ctrl.Snapshot(), maxPoints); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (v *HTTPViewer) handlePNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	points, _ := v.Points()
	var buf bytes.Buffer
	if err := renderProjection(&buf, points); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handleCommand queues a command. Forms posted from the page pass
// redirect=1 and are sent back to it.
func handleCommand(w http.ResponseWriter, r *http.Request, ctrl Controller, name string) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	select {
	case <-ctrl.Done():
		httputil.ServiceUnavailable(w, "fusion loop has stopped")
		return
	default:
	}
	dispatch(ctrl, name)
	monitoring.Diagf("viewer: %s from %s", name, r.RemoteAddr)

	if r.URL.Query().Get("redirect") != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	httputil.Accepted(w, map[string]string{"command": name})
}
