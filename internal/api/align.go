package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/panotour/internal/alignment"
	"github.com/banshee-data/panotour/internal/dataset"
	"github.com/banshee-data/panotour/internal/hotspot"
	"github.com/banshee-data/panotour/internal/httputil"
	"github.com/banshee-data/panotour/internal/pointcloud"
	"github.com/banshee-data/panotour/internal/transform"
)

// ProgressHeader carries "saved/total" on export downloads.
const ProgressHeader = "X-Alignment-Progress"

type paramsJSON struct {
	Rotation    transform.Euler `json:"rotation"`
	Translation vec3            `json:"translation"`
	Scale       *float64        `json:"scale,omitempty"`
}

type transformJSON struct {
	Params    paramsJSON     `json:"params"`
	Matrix    transform.Mat4 `json:"matrix"`
	PointSize float64        `json:"pointSize"`
}

type hotspotJSON struct {
	ID          string `json:"id"`
	Position    vec3   `json:"position"`
	TargetScene int    `json:"targetScene"`
}

type markerJSON struct {
	ID          string `json:"id"`
	World       vec3   `json:"world"`
	TargetScene int    `json:"targetScene"`
}

type statusJSON struct {
	Current   int            `json:"current"`
	Total     int            `json:"total"`
	Saved     int            `json:"saved"`
	Scene     *dataset.Scene `json:"scene,omitempty"`
	Transform transformJSON  `json:"transform"`
	Mode      hotspot.Mode   `json:"mode"`
	Target    int            `json:"target"`
	Points    int            `json:"points"`
	Markers   []markerJSON   `json:"markers"`
}

func toVec3(v r3.Vec) vec3 { return vec3{v.X, v.Y, v.Z} }

func (v vec3) vec() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func paramsToJSON(p transform.Params) paramsJSON {
	scale := p.Scale
	return paramsJSON{Rotation: p.RotationDeg, Translation: toVec3(p.Translation), Scale: &scale}
}

func markersToJSON(ms []hotspot.Marker) []markerJSON {
	out := make([]markerJSON, len(ms))
	for i, m := range ms {
		out[i] = markerJSON{ID: m.ID, World: toVec3(m.World), TargetScene: m.TargetScene}
	}
	return out
}

func hotspotsToJSON(hs []hotspot.Hotspot) []hotspotJSON {
	out := make([]hotspotJSON, len(hs))
	for i, h := range hs {
		out[i] = hotspotJSON{ID: h.ID, Position: toVec3(h.Position), TargetScene: h.TargetScene}
	}
	return out
}

func (s *Server) transformResponse(m transform.Mat4) transformJSON {
	return transformJSON{
		Params:    paramsToJSON(s.session.Params()),
		Matrix:    m,
		PointSize: s.session.PointSize(),
	}
}

func (s *Server) statusResponse() statusJSON {
	st := s.session.Status()
	return statusJSON{
		Current: st.Current,
		Total:   st.Total,
		Saved:   st.Saved,
		Scene:   st.Scene,
		Transform: transformJSON{
			Params:    paramsToJSON(st.Params),
			Matrix:    st.Matrix,
			PointSize: st.PointSize,
		},
		Mode:    st.Mode,
		Target:  st.Target,
		Points:  st.Points,
		Markers: markersToJSON(st.Markers),
	}
}

func (s *Server) alignStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.statusResponse())
}

func (s *Server) alignScenes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	saved, total := s.session.Progress()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"scenes":  s.session.Scenes(),
		"current": s.session.Current(),
		"saved":   saved,
		"total":   total,
	})
}

func (s *Server) alignSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Index *int `json:"index"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Index == nil {
		httputil.BadRequest(w, "missing 'index'")
		return
	}
	if err := s.session.Select(r.Context(), *req.Index); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.statusResponse())
}

func (s *Server) alignParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m, err := s.session.Matrix()
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.transformResponse(m))
	case http.MethodPut, http.MethodPost:
		var req paramsJSON
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		p := s.session.Params()
		p.RotationDeg = req.Rotation
		p.Translation = req.Translation.vec()
		if req.Scale != nil {
			p.Scale = *req.Scale
		}
		m, err := s.session.SetParams(p)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.transformResponse(m))
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) alignReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	m := s.session.ResetParams()
	httputil.WriteJSONOK(w, s.transformResponse(m))
}

func (s *Server) alignBase(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b := s.session.BaseTransform()
		if b == nil {
			httputil.WriteJSONOK(w, map[string]interface{}{"base": nil})
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"base": map[string]interface{}{
			"rotationQuaternion": transform.WXYZ(b.Rotation),
			"translation":        toVec3(b.Translation),
		}})
	case http.MethodPost, http.MethodPut:
		data, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxRequestBytes))
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("read body: %v", err))
			return
		}
		b, err := alignment.LoadBaseTransform(data)
		if err != nil {
			writeError(w, err)
			return
		}
		m, err := s.session.SetBaseTransform(b)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.transformResponse(m))
	case http.MethodDelete:
		m, err := s.session.SetBaseTransform(nil)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.transformResponse(m))
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) alignPlacement(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Target *int `json:"target"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		target := -1
		if req.Target != nil {
			target = *req.Target
		}
		if err := s.session.BeginPlacement(target); err != nil {
			writeError(w, err)
			return
		}
	case http.MethodDelete:
		s.session.CancelPlacement()
	default:
		httputil.MethodNotAllowed(w)
		return
	}
	st := s.session.Status()
	httputil.WriteJSONOK(w, map[string]interface{}{"mode": st.Mode, "target": st.Target})
}

func (s *Server) alignClick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req struct {
		Origin    vec3 `json:"origin"`
		Direction vec3 `json:"direction"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.session.Click(pointcloud.Ray{Origin: req.Origin.vec(), Direction: req.Direction.vec()})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]interface{}{
		"hit":  res.Hit,
		"mode": s.session.Mode(),
	}
	if res.Hit {
		resp["point"] = toVec3(res.Point)
	}
	if res.Hotspot != nil {
		resp["hotspot"] = hotspotsToJSON([]hotspot.Hotspot{*res.Hotspot})[0]
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) alignHotspots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, hotspotsToJSON(s.session.Hotspots()))
	case http.MethodPost:
		var req struct {
			Position vec3 `json:"position"`
			Target   int  `json:"targetScene"`
		}
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		h, err := s.session.AddHotspotAt(req.Position.vec(), req.Target)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, hotspotsToJSON([]hotspot.Hotspot{h})[0])
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			httputil.BadRequest(w, "missing 'id' parameter")
			return
		}
		if !s.session.DeleteHotspot(id) {
			httputil.NotFound(w, fmt.Sprintf("no hotspot %q", id))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) alignMarkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ms, err := s.session.Markers()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, markersToJSON(ms))
}

func (s *Server) alignSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	rec, err := s.session.Save()
	if err != nil {
		writeError(w, err)
		return
	}
	saved, total := s.session.Progress()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"matrix":   rec.Matrix,
		"hotspots": len(rec.Hotspots),
		"saved":    saved,
		"total":    total,
	})
}

func (s *Server) alignNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	done, err := s.session.Next(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"done":   done,
		"status": s.statusResponse(),
	})
}

func (s *Server) alignExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	doc := s.session.Export()
	var buf bytes.Buffer
	if err := alignment.Write(&buf, doc); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode alignments: %v", err))
		return
	}
	saved, total := s.session.Progress()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=alignments.json")
	w.Header().Set(ProgressHeader, fmt.Sprintf("%d/%d", saved, total))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) alignImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	doc, err := alignment.DecodeDocument(io.LimitReader(r.Body, alignment.MaxDocumentBytes))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	n, err := s.session.ImportDocument(doc)
	if err != nil {
		writeError(w, err)
		return
	}
	saved, total := s.session.Progress()
	httputil.WriteJSONOK(w, map[string]int{"imported": n, "saved": saved, "total": total})
}
