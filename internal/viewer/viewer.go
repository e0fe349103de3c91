// Package viewer displays the fused point cloud and feeds user commands back
// to the fusion controller: an HTTP page with a 3-D scatter chart, JSON and
// PNG endpoints, an MQTT publisher, and a terminal command reader.
package viewer

import (
	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/fusion"
)

// Commander receives the three viewer commands.
type Commander interface {
	Reset()
	ToggleMode()
	Advance()
}

// Controller is the part of fusion.Controller the viewers use.
type Controller interface {
	Commander
	Snapshot() fusion.Snapshot
	Done() <-chan struct{}
}

// Multi renders to every viewer in order. Viewers share the slice and must
// not modify it.
type Multi []fusion.Viewer

func (m Multi) Render(points []cloud.Point3D) {
	for _, v := range m {
		v.Render(points)
	}
}

// command names shared by the HTTP, MQTT and terminal surfaces.
const (
	CommandReset   = "reset"
	CommandToggle  = "toggle"
	CommandAdvance = "advance"
)

// dispatch runs the named command. It reports false for an unknown name.
func dispatch(c Commander, name string) bool {
	switch name {
	case CommandReset:
		c.Reset()
	case CommandToggle:
		c.ToggleMode()
	case CommandAdvance:
		c.Advance()
	default:
		return false
	}
	return true
}

// pointTriples flattens points into [x, y, z] arrays for JSON encoding.
func pointTriples(points []cloud.Point3D) [][3]float64 {
	out := make([][3]float64, len(points))
	for i, p := range points {
		out[i] = [3]float64{p.X, p.Y, p.Z}
	}
	return out
}
