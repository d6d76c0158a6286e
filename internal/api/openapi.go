package api

import (
	_ "embed"
	"net/http"
)

//go:embed openapi.yaml
var openAPIDoc []byte

// HandleOpenAPIDoc serves the bundled API document. Mounted only when
// ServeOpenAPIDoc is enabled.
func (s *Server) HandleOpenAPIDoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDoc)
}
