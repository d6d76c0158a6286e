package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lakekeeper/lakekeeper/internal/domain"
	"github.com/lakekeeper/lakekeeper/internal/signer"
)

// HandleSignS3 signs an S3 request without a pinned table. The signer
// infers the table from the object key.
func (s *Server) HandleSignS3(w http.ResponseWriter, r *http.Request) {
	s.handleSign(w, r, nil)
}

// HandleSignS3Table signs an S3 request pinned to the route table. Keys
// outside the table's location are rejected.
func (s *Server) HandleSignS3Table(w http.ResponseWriter, r *http.Request) {
	ns, err := namespaceParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	name := chi.URLParam(r, "table")
	target := &signer.Target{
		Kind:  domain.TabularKindTable,
		Ident: domain.TabularIdent{Namespace: ns, Name: name},
	}
	s.handleSign(w, r, target)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request, target *signer.Target) {
	ctx := r.Context()
	meta := MetadataFromContext(ctx)

	prefix := chi.URLParam(r, "prefix")
	warehouseID, err := domain.ParseWarehouseID(prefix)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req signer.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.Signer.Sign(ctx, meta, warehouseID, target, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
