// Shoal Probe is a Redfish conformance prober.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package bmcsim

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"shoalprobe/pkg/auth"
	"shoalprobe/pkg/models"
	"shoalprobe/pkg/redact"
	"shoalprobe/pkg/redfish"
)

const sessionsPath = "/redfish/v1/SessionService/Sessions"

// LockoutMessage is returned when a login is refused because the account is
// locked.
const LockoutMessage = "The account is locked out due to too many failed login attempts."

type ctxKey int

const accountKey ctxKey = iota

func accountFrom(ctx context.Context) *models.Account {
	a, _ := ctx.Value(accountKey).(*models.Account)
	return a
}

// requireSession authenticates X-Auth-Token against the session store.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.NoValidSession", "Authentication required")
			return
		}
		sess, err := s.db.GetSessionByToken(r.Context(), token)
		if err != nil {
			s.logger.Error("session lookup failed", "error", err)
			writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
			return
		}
		if sess == nil {
			writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.NoValidSession", "No valid session found")
			return
		}
		acct, err := s.db.GetAccount(r.Context(), sess.AccountID)
		if err != nil || !auth.CanLogin(acct) {
			writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.NoValidSession", "No valid session found")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey, acct)))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req redfish.SessionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Base.1.8.MalformedJSON", "Malformed JSON")
		return
	}
	if req.UserName == "" || req.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Base.1.8.PropertyMissing", "UserName and Password are required")
		return
	}

	ctx := r.Context()
	now := s.clk.Now()
	acct, err := s.db.GetAccountByUsername(ctx, req.UserName)
	if err != nil {
		s.logger.Error("account lookup failed", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
		return
	}
	if acct == nil || !auth.CanLogin(acct) {
		writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.ResourceAtUriUnauthorized", "Invalid username or password")
		return
	}
	if acct.IsLocked(now) {
		s.logger.Info("login refused for locked account", "user", acct.Username)
		writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.AccountLocked", LockoutMessage)
		return
	}

	if err := auth.VerifyPassword(req.Password, acct.PasswordHash); err != nil {
		if !errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Error("password verification failed", "error", err)
		}
		updated, err := s.db.RecordLoginFailure(ctx, acct.ID, s.cfg.LockoutThreshold, s.cfg.LockoutDuration, now)
		if err != nil {
			s.logger.Error("record login failure", "error", err)
			writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
			return
		}
		if updated.IsLocked(now) {
			s.logger.Warn("account locked after repeated failures", "user", acct.Username, "until", updated.LockedUntil)
			writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.AccountLocked", LockoutMessage)
			return
		}
		writeErrorResponse(w, http.StatusUnauthorized, "Base.1.8.ResourceAtUriUnauthorized", "Invalid username or password")
		return
	}

	if acct.FailedAttempts > 0 || acct.LockedUntil != nil {
		if err := s.db.ResetLoginFailures(ctx, acct.ID); err != nil {
			s.logger.Warn("reset login failures", "error", err)
		}
	}

	sess := &models.Session{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		Username:  acct.Username,
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt: now,
	}
	if err := s.db.CreateSession(ctx, sess); err != nil {
		s.logger.Error("create session", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
		return
	}
	s.logger.Info("session created", "user", acct.Username, "session", sess.ID, "token", redact.Token(sess.Token))

	location := sessionsPath + "/" + sess.ID
	w.Header().Set("X-Auth-Token", sess.Token)
	w.Header().Set("Location", location)
	writeJSONResponse(w, http.StatusCreated, sessionBody(sess))
}

func sessionBody(sess *models.Session) redfish.Session {
	return redfish.Session{
		ODataContext: "/redfish/v1/$metadata#Session.Session",
		ODataID:      sessionsPath + "/" + sess.ID,
		ODataType:    "#Session.v1_0_0.Session",
		ID:           sess.ID,
		Name:         "User Session",
		UserName:     sess.Username,
	}
}

func (s *Server) handleSessionService(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, redfish.SessionService{
		ODataContext:   "/redfish/v1/$metadata#SessionService.SessionService",
		ODataID:        "/redfish/v1/SessionService",
		ODataType:      "#SessionService.v1_0_0.SessionService",
		ID:             "SessionService",
		Name:           "Session Service",
		Description:    "Session Service",
		ServiceEnabled: true,
		SessionTimeout: 1800,
		Sessions:       redfish.ODataIDRef{ODataID: sessionsPath},
	})
}

func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
		return
	}
	members := make([]redfish.ODataIDRef, 0, len(sessions))
	for _, sess := range sessions {
		members = append(members, redfish.ODataIDRef{ODataID: sessionsPath + "/" + sess.ID})
	}
	writeJSONResponse(w, http.StatusOK, redfish.Collection{
		ODataContext: "/redfish/v1/$metadata#SessionCollection.SessionCollection",
		ODataID:      sessionsPath,
		ODataType:    "#SessionCollection.SessionCollection",
		Name:         "Session Collection",
		Members:      members,
		MembersCount: len(members),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.db.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
		return
	}
	if sess == nil {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "Session not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, sessionBody(sess))
}

// handleDeleteSession lets an account end its own sessions; administrators
// may end any session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	target, err := s.db.GetSession(ctx, id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
		return
	}
	if target == nil {
		writeErrorResponse(w, http.StatusNotFound, "Base.1.8.ResourceNotFound", "Session not found")
		return
	}
	acct := accountFrom(ctx)
	if target.AccountID != acct.ID && !auth.IsAdministrator(acct) {
		writeErrorResponse(w, http.StatusForbidden, "Base.1.8.InsufficientPrivilege", "Cannot delete another account's session")
		return
	}
	if _, err := s.db.DeleteSession(ctx, id); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "Base.1.8.InternalError", "Internal error")
		return
	}
	s.logger.Info("session deleted", "session", id, "by", acct.Username)
	w.Header().Set("OData-Version", "4.0")
	w.WriteHeader(http.StatusNoContent)
}
