package viewer

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/fusion"
)

func newTestServer(t *testing.T) (*HTTPViewer, *MockController, *http.ServeMux) {
	t.Helper()
	v := NewHTTPViewer()
	ctrl := NewMockController()
	ctrl.Snap = fusion.Snapshot{Mode: fusion.ModeManual.String(), Key: 5, Keys: []float64{0}}
	mux := http.NewServeMux()
	v.AttachRoutes(mux, ctrl)
	return v, ctrl, mux
}

func do(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRenderKeepsLatestCloud(t *testing.T) {
	v := NewHTTPViewer()
	pts, version := v.Points()
	assert.Empty(t, pts)
	assert.Zero(t, version)

	v.Render([]cloud.Point3D{{X: 1, Y: 2, Z: 3}})
	v.Render([]cloud.Point3D{{X: 4, Y: 5, Z: 6}, {X: 7, Y: 8, Z: 9}})
	pts, version = v.Points()
	assert.Len(t, pts, 2)
	assert.Equal(t, uint64(2), version)
}

func TestCloudEndpoint(t *testing.T) {
	v, _, mux := newTestServer(t)
	v.Render([]cloud.Point3D{{X: 5, Y: 100, Z: 0}})

	rec := do(mux, http.MethodGet, "/api/cloud")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp CloudResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Version)
	assert.Equal(t, [][3]float64{{5, 100, 0}}, resp.Points)
	assert.Equal(t, "Current Mode", resp.Status.Mode)
	assert.Equal(t, 5.0, resp.Status.Key)

	assert.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodPost, "/api/cloud").Code)
}

func TestCloudEndpointEmpty(t *testing.T) {
	_, _, mux := newTestServer(t)
	rec := do(mux, http.MethodGet, "/api/cloud")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"points":[]`)
}

func TestPageEndpoint(t *testing.T) {
	v, _, mux := newTestServer(t)
	v.Render([]cloud.Point3D{{X: 0, Y: 1, Z: 2}, {X: 5, Y: 3, Z: 4}})

	rec := do(mux, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Sweep Scan 3D")
	assert.Contains(t, body, "scatter3D")
	assert.Contains(t, body, `action="/api/advance?redirect=1"`)
	assert.Contains(t, body, "Current Mode")
	assert.Less(t, strings.Index(body, "/api/reset"), strings.LastIndex(body, "</body>"))

	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/nope").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodPost, "/").Code)
}

func TestStride(t *testing.T) {
	assert.Equal(t, 1, stride(10, 100))
	assert.Equal(t, 1, stride(100, 100))
	assert.Equal(t, 2, stride(101, 100))
	assert.Equal(t, 3, stride(250, 100))
	assert.Equal(t, 1, stride(250, 0))
}

func TestPNGEndpoint(t *testing.T) {
	v, _, mux := newTestServer(t)

	for _, pts := range [][]cloud.Point3D{
		nil,
		{{X: 0, Y: 100, Z: 0}, {X: 0, Y: 0, Z: 100}, {X: 5, Y: -100, Z: -50}},
	} {
		v.Render(pts)
		rec := do(mux, http.MethodGet, "/api/cloud.png")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		assert.NoError(t, err)
	}
}

func TestCommandEndpoints(t *testing.T) {
	_, ctrl, mux := newTestServer(t)

	for _, name := range []string{CommandReset, CommandToggle, CommandAdvance, CommandAdvance} {
		rec := do(mux, http.MethodPost, "/api/"+name)
		assert.Equal(t, http.StatusAccepted, rec.Code, name)
		assert.Contains(t, rec.Body.String(), name)
	}
	assert.Equal(t, 1, ctrl.Count(CommandReset))
	assert.Equal(t, 1, ctrl.Count(CommandToggle))
	assert.Equal(t, 2, ctrl.Count(CommandAdvance))

	assert.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodGet, "/api/reset").Code)
	assert.Equal(t, 1, ctrl.Count(CommandReset))

	rec := do(mux, http.MethodPost, "/api/toggle?redirect=1")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestCommandAfterLoopStopped(t *testing.T) {
	_, ctrl, mux := newTestServer(t)
	ctrl.Stop()

	rec := do(mux, http.MethodPost, "/api/advance")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, ctrl.Count(CommandAdvance))
}

func TestMultiRendersToAll(t *testing.T) {
	a, b := NewHTTPViewer(), NewHTTPViewer()
	Multi{a, b}.Render([]cloud.Point3D{{X: 1}})

	for _, v := range []*HTTPViewer{a, b} {
		pts, version := v.Points()
		assert.Len(t, pts, 1)
		assert.Equal(t, uint64(1), version)
	}
}
