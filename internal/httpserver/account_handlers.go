package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/docsense/docsense/internal/ledger"
)

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	acct, err := s.meter.Balance(r.Context(), user.ID)
	if err != nil {
		s.respondChargeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"account": acct})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	acct, err := s.meter.Balance(r.Context(), user.ID)
	if err != nil {
		s.respondChargeError(w, err)
		return
	}
	txs, err := s.store.ListTransactions(r.Context(), acct.ID, queryLimit(r, 50))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleUsageReport(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	filter := ledger.UsageFilter{
		UserID:   user.ID,
		ToolName: r.URL.Query().Get("tool"),
		FromDay:  r.URL.Query().Get("from"),
		ToDay:    r.URL.Query().Get("to"),
	}
	usage, err := s.store.UsageReport(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if usage == nil {
		usage = []ledger.ToolUsage{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"usage": usage})
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	filter := ledger.AuditFilter{
		UserID: user.ID,
		Limit:  queryLimit(r, 100),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		filter.From = ts
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		filter.To = ts
	}
	calls, err := s.store.AuditTrail(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if calls == nil {
		calls = []ledger.CallRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	actions, err := s.users.ListActions(r.Context(), user.ID, queryLimit(r, 50))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func queryLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
