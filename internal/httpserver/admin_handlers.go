package httpserver

import (
	"fmt"
	"net/http"

	"github.com/docsense/docsense/internal/billing"
	"github.com/docsense/docsense/internal/userstore"
	"github.com/docsense/docsense/internal/version"
)

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user.Role != userstore.RoleOrgAdmin {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("%w: admin overview requires org_admin", billing.ErrUnauthorized))
		return
	}
	overview, err := s.store.Overview(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"overview": overview,
		"version":  version.FullInfo(),
	})
}
