package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/httputil"
	"github.com/banshee-data/panotour/internal/playback"
	"github.com/banshee-data/panotour/internal/pointcloud"
	"github.com/banshee-data/panotour/internal/preview"
)

// writePreview renders sc per the query: format=html (default), png or
// webp; max_points overrides the configured cap.
func (s *Server) writePreview(w http.ResponseWriter, r *http.Request, sc preview.Scene) {
	maxPoints := s.cfg.GetPreviewMaxPoints()
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	var buf bytes.Buffer
	format := r.URL.Query().Get("format")
	if format == "" || format == "html" {
		if err := preview.RenderHTML(&buf, sc, maxPoints); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
		return
	}

	f, err := preview.ParseFormat(format)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := preview.RenderImage(&buf, sc, f, maxPoints, 0); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render image: %v", err))
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	_, _ = w.Write(buf.Bytes())
}

// alignPreview draws the scene being aligned as the viewer would show it.
func (s *Server) alignPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.session.Status()
	if st.Scene == nil {
		httputil.Conflict(w, "no scene selected")
		return
	}
	cloud := s.session.Cloud()
	if cloud == nil {
		httputil.Conflict(w, "point cloud not loaded")
		return
	}
	world := cloud.Transformed(st.Matrix)
	world, _ = pointcloud.FilterNearOrigin(world, s.cfg.GetFilterRadius(), s.cfg.GetFilterHeight())

	hs := make([]r3.Vec, len(st.Markers))
	for i, m := range st.Markers {
		hs[i] = m.World
	}
	s.writePreview(w, r, preview.Scene{
		Title:    fmt.Sprintf("Scene %d: %s", st.Current, st.Scene.PCD),
		Cloud:    world,
		Hotspots: hs,
	})
}

func (s *Server) tourPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sc := s.resolver.State().Scene
	if sc == nil {
		writeError(w, playback.ErrNoScene)
		return
	}
	hs := make([]r3.Vec, len(sc.Hotspots))
	for i, h := range sc.Hotspots {
		hs[i] = h.World
	}
	s.writePreview(w, r, preview.Scene{
		Title:    fmt.Sprintf("Stop %d: %s", sc.Index, sc.Stop.Image),
		Cloud:    sc.Cloud,
		Hotspots: hs,
	})
}
