package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/history"
)

// UpgradeRequest asks for a single-org upgrade
type UpgradeRequest struct {
	OrgID     string `json:"org_id"`
	PackageID string `json:"package_id"`
	SessionID string `json:"session_id"`
}

// BatchRequest asks for a multi-org upgrade
type BatchRequest struct {
	OrgIDs      []string `json:"org_ids"`
	PackageID   string   `json:"package_id"`
	SessionID   string   `json:"session_id"`
	Concurrency int      `json:"concurrency"`
}

// InputRequest deposits a pending input value
type InputRequest struct {
	SessionID string `json:"session_id"`
	UpgradeID string `json:"upgrade_id"`
	Value     string `json:"value"`
}

func (s *Server) startUpgradeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req UpgradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !packageIDPattern.MatchString(req.PackageID) {
			writeError(w, http.StatusBadRequest, "invalid package id")
			return
		}
		if !validSessionID(req.SessionID) {
			writeError(w, http.StatusBadRequest, "session id required")
			return
		}

		org, err := s.orgs.GetByID(req.OrgID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		go func() {
			if _, err := s.machine.Run(s.baseCtx, org, req.PackageID, req.SessionID, ""); err != nil {
				log.Printf("upgrade for %s: %v", org.ID, err)
				s.channel.Publish(req.SessionID, domain.StatusEvent{
					OrgID:   org.ID,
					Type:    domain.EventCriticalError,
					Message: err.Error(),
				})
			}
		}()

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{
			"org_id":     org.ID,
			"package_id": req.PackageID,
			"session_id": req.SessionID,
			"status":     "accepted",
		})
	}
}

func (s *Server) startBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req BatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !packageIDPattern.MatchString(req.PackageID) {
			writeError(w, http.StatusBadRequest, "invalid package id")
			return
		}
		if !validSessionID(req.SessionID) {
			writeError(w, http.StatusBadRequest, "session id required")
			return
		}
		if len(req.OrgIDs) == 0 {
			writeError(w, http.StatusBadRequest, "at least one org id required")
			return
		}

		orgs, err := s.orgs.GetByIDs(req.OrgIDs)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		go s.batches.Run(s.baseCtx, orgs, req.PackageID, req.SessionID, req.Concurrency)

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]interface{}{
			"org_count":  len(orgs),
			"package_id": req.PackageID,
			"session_id": req.SessionID,
			"status":     "accepted",
		})
	}
}

func (s *Server) submitInputHandler(kind domain.InputKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req InputRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !validSessionID(req.SessionID) || req.UpgradeID == "" || req.Value == "" {
			writeError(w, http.StatusBadRequest, "session_id, upgrade_id and value required")
			return
		}

		s.channel.SubmitInput(req.SessionID, req.UpgradeID, kind, req.Value)
		writeJSON(w, map[string]string{"status": "deposited"})
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		sessionID := r.URL.Query().Get("session")
		if !validSessionID(sessionID) {
			writeError(w, http.StatusBadRequest, "session query parameter required")
			return
		}

		writeJSON(w, s.channel.Poll(sessionID))
	}
}

func (s *Server) listOrgsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		ids := s.orgs.IDs()
		orgs, err := s.orgs.GetByIDs(ids)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		// Org serialization redacts credentials
		writeJSON(w, orgs)
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		entries, err := s.history.Query(offset, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, entries)
	}
}

func (s *Server) historyEntryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/history/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "attempt id required")
			return
		}

		entry, err := s.history.Get(id)
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attempt not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, entry)
	}
}
