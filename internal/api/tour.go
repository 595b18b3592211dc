package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/httputil"
	"github.com/banshee-data/panotour/internal/playback"
	"github.com/banshee-data/panotour/internal/pointcloud"
)

type tourHotspotJSON struct {
	Index       int  `json:"index"`
	World       vec3 `json:"world"`
	TargetScene int  `json:"targetScene"`
}

type tourSceneJSON struct {
	Index     int               `json:"index"`
	Image     string            `json:"image"`
	PCD       string            `json:"pcd"`
	Aligned   bool              `json:"aligned"`
	Panorama  dataset.Panorama  `json:"panorama"`
	Points    int               `json:"points"`
	Filtered  int               `json:"filtered"`
	PointSize float64           `json:"pointSize"`
	Hotspots  []tourHotspotJSON `json:"hotspots"`
}

type tourStateJSON struct {
	Current   int            `json:"current"`
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	LastError string         `json:"lastError,omitempty"`
	Scene     *tourSceneJSON `json:"scene,omitempty"`
}

func sceneToJSON(sc *playback.LoadedScene) *tourSceneJSON {
	if sc == nil {
		return nil
	}
	out := &tourSceneJSON{
		Index:     sc.Index,
		Image:     sc.Stop.Image,
		PCD:       sc.Stop.PCD,
		Aligned:   sc.Aligned,
		Panorama:  sc.Panorama,
		Filtered:  sc.Filtered,
		PointSize: sc.PointSize,
		Hotspots:  make([]tourHotspotJSON, len(sc.Hotspots)),
	}
	if sc.Cloud != nil {
		out.Points = sc.Cloud.Len()
	}
	for i, h := range sc.Hotspots {
		out.Hotspots[i] = tourHotspotJSON{Index: h.Index, World: toVec3(h.World), TargetScene: h.TargetScene}
	}
	return out
}

func (s *Server) tourStateResponse() tourStateJSON {
	st := s.resolver.State()
	out := tourStateJSON{
		Current: st.Current,
		Total:   st.Total,
		Pending: st.Pending,
		Scene:   sceneToJSON(st.Scene),
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}
	return out
}

func (s *Server) tourState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.tourStateResponse())
}

// tourLoad runs a resolver call from a POST body holding one integer field.
func (s *Server) tourLoad(w http.ResponseWriter, r *http.Request, field string,
	load func(n int) (*playback.LoadedScene, error)) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req map[string]*int
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	n, ok := req[field]
	if !ok || n == nil {
		httputil.BadRequest(w, fmt.Sprintf("missing '%s'", field))
		return
	}
	sc, err := load(*n)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sceneToJSON(sc))
}

func (s *Server) tourNavigate(w http.ResponseWriter, r *http.Request) {
	s.tourLoad(w, r, "index", func(n int) (*playback.LoadedScene, error) {
		return s.resolver.NavigateTo(r.Context(), n)
	})
}

func (s *Server) tourStep(w http.ResponseWriter, r *http.Request) {
	s.tourLoad(w, r, "delta", func(n int) (*playback.LoadedScene, error) {
		return s.resolver.Step(r.Context(), n)
	})
}

func (s *Server) tourHotspot(w http.ResponseWriter, r *http.Request) {
	s.tourLoad(w, r, "hotspot", func(n int) (*playback.LoadedScene, error) {
		return s.resolver.ActivateHotspot(r.Context(), n)
	})
}

// tourCloud returns the current stop's filtered world-frame cloud as PCD.
func (s *Server) tourCloud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sc := s.resolver.State().Scene
	if sc == nil {
		writeError(w, playback.ErrNoScene)
		return
	}
	if sc.Cloud == nil {
		httputil.NotFound(w, fmt.Sprintf("stop %d is not aligned", sc.Index))
		return
	}
	var buf bytes.Buffer
	if err := pointcloud.WritePCD(&buf, sc.Cloud); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode cloud: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=stop_%d.pcd", sc.Index))
	_, _ = w.Write(buf.Bytes())
}
