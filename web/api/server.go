// Package api exposes the upgrade engine over HTTP: request ingress,
// pending input deposits, status polling, and live event streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/forcetools/orgupgrader/internal/domain"
	"github.com/forcetools/orgupgrader/internal/history"
	"github.com/forcetools/orgupgrader/internal/status"
)

// packageIDPattern matches package install identifiers as they appear
// in install URLs
var packageIDPattern = regexp.MustCompile(`^04t[A-Za-z0-9]{12,15}$`)

const maxSessionIDLen = 128

// OrgSource resolves org identities for incoming requests
type OrgSource interface {
	GetByID(id string) (domain.Org, error)
	GetByIDs(ids []string) ([]domain.Org, error)
	IDs() []string
}

// UpgradeStarter runs one org's upgrade to completion
type UpgradeStarter interface {
	Run(ctx context.Context, org domain.Org, packageID, sessionID, batchID string) (*domain.Attempt, error)
}

// BatchStarter fans an upgrade out across several orgs
type BatchStarter interface {
	Run(ctx context.Context, orgs []domain.Org, packageID, sessionID string, concurrency int) *domain.BatchRun
}

// HistoryReader serves past attempts
type HistoryReader interface {
	Query(offset, limit int) ([]*history.Entry, error)
	Get(id string) (*history.Entry, error)
}

// Server is the HTTP API server
type Server struct {
	orgs    OrgSource
	machine UpgradeStarter
	batches BatchStarter
	channel *status.Channel
	history HistoryReader
	addr    string
	mux     *http.ServeMux

	// baseCtx bounds background upgrade work started by handlers
	baseCtx context.Context
}

// NewServer creates a new API server
func NewServer(ctx context.Context, orgs OrgSource, machine UpgradeStarter, batches BatchStarter, channel *status.Channel, hist HistoryReader, addr string) *Server {
	s := &Server{
		orgs:    orgs,
		machine: machine,
		batches: batches,
		channel: channel,
		history: hist,
		addr:    addr,
		mux:     http.NewServeMux(),
		baseCtx: ctx,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/upgrades", s.startUpgradeHandler())
	s.mux.HandleFunc("/api/batches", s.startBatchHandler())
	s.mux.HandleFunc("/api/inputs/verification", s.submitInputHandler(domain.InputVerificationCode))
	s.mux.HandleFunc("/api/inputs/confirmation", s.submitInputHandler(domain.InputConfirmation))
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/orgs", s.listOrgsHandler())
	s.mux.HandleFunc("/api/history", s.historyHandler())
	s.mux.HandleFunc("/api/history/", s.historyEntryHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler returns the server's routing mux
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func validSessionID(id string) bool {
	return id != "" && len(id) <= maxSessionIDLen
}
