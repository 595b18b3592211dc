package api

import (
	"compress/gzip"
	"fmt"
	"log"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/panotour/internal/alignment"
	"github.com/banshee-data/panotour/internal/httputil"
)

// AttachAdminRoutes mounts debug pages under /debug/. tsweb restricts them
// to loopback and tailnet clients.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("config", "Effective alignment configuration", http.HandlerFunc(s.showConfig))

	if s.session != nil {
		debug.KVFunc("Scenes aligned", func() any {
			saved, total := s.session.Progress()
			return fmt.Sprintf("%d/%d", saved, total)
		})
		debug.HandleFunc("session", "Authoring session state", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, s.statusResponse())
		})
		debug.HandleFunc("export", "Download a gzipped snapshot of the alignments now", func(w http.ResponseWriter, r *http.Request) {
			name := fmt.Sprintf("alignments-%d.json", time.Now().Unix())
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
			w.Header().Set("Content-Type", "application/gzip")

			gz := gzip.NewWriter(w)
			defer gz.Close()
			if err := alignment.Write(gz, s.session.Export()); err != nil {
				log.Printf("Failed to write alignment snapshot: %v", err)
			}
		})
	}

	if s.resolver != nil {
		debug.KVFunc("Tour stops", func() any { return s.resolver.Len() })
		debug.HandleFunc("tour", "Playback resolver state", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, s.tourStateResponse())
		})
	}
}
