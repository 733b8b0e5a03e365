package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/docsense/docsense/internal/billing"
	"github.com/docsense/docsense/internal/userstore"
)

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user.Role != userstore.RoleOrgAdmin {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("%w: only org admins may create teams", billing.ErrUnauthorized))
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	team, err := s.users.CreateTeam(r.Context(), body.Name, user.ID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := s.store.EnsureTeamAccount(r.Context(), team.ID, s.defaultGrant)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.recordAction(r, user.ID, "Created team "+team.Name)

	s.respondJSON(w, http.StatusCreated, map[string]any{"team": team, "account": acct})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user.Role != userstore.RoleOrgAdmin {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("%w: only org admins may add members", billing.ErrUnauthorized))
		return
	}
	team, err := s.users.TeamByAdmin(r.Context(), user.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if team == nil {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("%w: %s administers no team", billing.ErrUnauthorized, user.Email))
		return
	}
	var body struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Verified    bool   `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	member, err := s.users.EnsureUser(r.Context(), body.Email, body.DisplayName, userstore.RoleClient)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.users.AddMember(r.Context(), team.ID, member.ID, body.Verified); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	// joining a team ensures the member's personal account exists
	if _, err := s.store.EnsureUserAccount(r.Context(), member.ID, s.defaultGrant); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.recordAction(r, user.ID, "Added "+member.Email+" to team "+team.Name)

	s.respondJSON(w, http.StatusCreated, map[string]any{"team": team, "member": member})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	team, err := s.users.TeamByAdmin(r.Context(), user.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if team == nil {
		s.respondError(w, http.StatusForbidden, fmt.Errorf("%w: %s administers no team", billing.ErrUnauthorized, user.Email))
		return
	}
	members, err := s.users.ListMembers(r.Context(), team.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if members == nil {
		members = []userstore.Member{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"team": team, "members": members})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	var body struct {
		MemberEmail string `json:"member_email"`
		Amount      int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.Amount <= 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("amount must be a positive integer"))
		return
	}
	receipt, err := s.transfers.Transfer(r.Context(), billing.TransferRequest{
		Admin:       user,
		MemberEmail: body.MemberEmail,
		Amount:      body.Amount,
		IP:          r.RemoteAddr,
		Device:      r.UserAgent(),
	})
	if err != nil {
		s.respondChargeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"transfer": receipt})
}

func (s *Server) recordAction(r *http.Request, userID int64, action string) {
	if err := s.users.RecordAction(r.Context(), userstore.Action{
		UserID: userID,
		Action: action,
		IP:     r.RemoteAddr,
		Device: r.UserAgent(),
	}); err != nil {
		log.Printf("[WARN] httpserver: record action for user %d: %v", userID, err)
	}
}
