package api

import (
	"net/http"

	"kmfx/internal/portal"
)

// Client routes are always scoped to the account in the caller's token.

func clientAccount(r *http.Request) int64 {
	p, _ := principalFromContext(r.Context())
	return p.AccountID
}

func (s *Server) handleClientOverview(w http.ResponseWriter, r *http.Request) {
	out, err := s.portal.ClientOverview(r.Context(), clientAccount(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClientProfits(w http.ResponseWriter, r *http.Request) {
	s.writeProfits(w, r, clientAccount(r))
}

func (s *Server) handleClientDownline(w http.ResponseWriter, r *http.Request) {
	s.writeDownline(w, r, clientAccount(r))
}

func (s *Server) handleClientWithdrawals(w http.ResponseWriter, r *http.Request) {
	s.writeWithdrawals(w, r, clientAccount(r))
}

func (s *Server) handleClientWithdrawalRequest(w http.ResponseWriter, r *http.Request) {
	var in withdrawalRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.requestWithdrawal(w, r, clientAccount(r), in)
}

func (s *Server) handleClientLicenses(w http.ResponseWriter, r *http.Request) {
	s.writeLicenses(w, r, clientAccount(r))
}

func (s *Server) handleClientFiles(w http.ResponseWriter, r *http.Request) {
	s.writeFiles(w, r, clientAccount(r))
}

func (s *Server) handleClientMessages(w http.ResponseWriter, r *http.Request) {
	out, err := s.portal.Thread(r.Context(), clientAccount(r), portal.SenderClient)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleClientMessageSend(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	s.sendMessage(w, r, p.AccountID, portal.SenderClient, p.Username)
}

func (s *Server) handleClientNotifications(w http.ResponseWriter, r *http.Request) {
	id := clientAccount(r)
	unreadOnly := r.URL.Query().Get("unread") == "1"
	out, err := s.inbox.List(r.Context(), id, unreadOnly, 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	unread, err := s.inbox.UnreadCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out, "unread": unread})
}

// handleClientNotificationsRead marks one notification read, or all of them
// when no id is given.
func (s *Server) handleClientNotificationsRead(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID int64 `json:"id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := clientAccount(r)
	if in.ID > 0 {
		if err := s.inbox.MarkRead(r.Context(), id, in.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"marked": 1})
		return
	}
	n, err := s.inbox.MarkAllRead(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": n})
}
