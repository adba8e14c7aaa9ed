// Package api exposes the peer manager to the bot layer over HTTP.
// Authorization of admins and presentation stay with the caller; this
// surface only maps manager operations and errors onto JSON.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/zombar/wgkeeper/internal/control"
	"github.com/zombar/wgkeeper/internal/ipalloc"
	"github.com/zombar/wgkeeper/internal/metrics"
	"github.com/zombar/wgkeeper/internal/peers"
	"github.com/zombar/wgkeeper/internal/wgconf"
)

// Server is the admin HTTP API.
type Server struct {
	manager   *peers.Manager
	mux       *http.ServeMux
	authToken string
}

// NewServer creates the API server around a peer manager. An empty
// authToken disables authentication (for localhost-only listeners).
func NewServer(manager *peers.Manager, authToken string) *Server {
	s := &Server{
		manager:   manager,
		mux:       http.NewServeMux(),
		authToken: authToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/peers", s.withAuth(s.handlePeers))
	s.mux.HandleFunc("/api/v1/peers/", s.withAuth(s.handlePeerByName))
	s.mux.HandleFunc("/api/v1/status", s.withAuth(s.handleStatus))
	s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != s.authToken {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// addPeerRequest is the body of POST /api/v1/peers.
type addPeerRequest struct {
	Name string `json:"name"`
}

// peerResponse is returned for a created peer. ReloadFailed signals the
// partial-failure state: the peer is persisted but the interface has
// not picked it up yet.
type peerResponse struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	PublicKey    string `json:"public_key"`
	PrivateKey   string `json:"private_key"` // only shown at creation
	PresharedKey string `json:"preshared_key,omitempty"`
	ReloadFailed bool   `json:"reload_failed,omitempty"`
	ReloadError  string `json:"reload_error,omitempty"`
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPeers(w)
	case http.MethodPost:
		s.addPeer(w, r)
	default:
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listPeers(w http.ResponseWriter) {
	list, err := s.manager.ListPeers()
	if err != nil {
		s.mapError(w, err)
		return
	}

	type row struct {
		Name      string `json:"name"`
		Address   string `json:"address"`
		PublicKey string `json:"public_key"`
	}
	rows := make([]row, 0, len(list))
	for _, p := range list {
		rows = append(rows, row{Name: p.Name, Address: p.Address.String(), PublicKey: p.PublicKey})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"peers": rows})
}

func (s *Server) addPeer(w http.ResponseWriter, r *http.Request) {
	var req addPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := s.manager.AddPeer(r.Context(), req.Name)

	var reloadErr *peers.ReloadError
	if errors.As(err, &reloadErr) && reloadErr.Identity != nil {
		// Persisted but not live: report success with a warning rather
		// than folding it into a generic failure.
		identity = reloadErr.Identity
		s.writeJSON(w, http.StatusCreated, peerResponse{
			Name:         identity.Name,
			Address:      identity.Address.String(),
			PublicKey:    identity.PublicKey,
			PrivateKey:   identity.PrivateKey,
			PresharedKey: identity.PresharedKey,
			ReloadFailed: true,
			ReloadError:  reloadErr.Err.Error(),
		})
		return
	}
	if err != nil {
		s.mapError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, peerResponse{
		Name:         identity.Name,
		Address:      identity.Address.String(),
		PublicKey:    identity.PublicKey,
		PrivateKey:   identity.PrivateKey,
		PresharedKey: identity.PresharedKey,
	})
}

func (s *Server) handlePeerByName(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/peers/")
	name, sub, _ := strings.Cut(rest, "/")

	switch {
	case sub == "" && r.Method == http.MethodDelete:
		s.removePeer(w, r, name)
	case sub == "profile" && r.Method == http.MethodGet:
		s.exportPeer(w, name)
	default:
		s.jsonError(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) removePeer(w http.ResponseWriter, r *http.Request, name string) {
	err := s.manager.RemovePeer(r.Context(), name)

	var reloadErr *peers.ReloadError
	if errors.As(err, &reloadErr) {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"removed":       true,
			"reload_failed": true,
			"reload_error":  reloadErr.Err.Error(),
		})
		return
	}
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (s *Server) exportPeer(w http.ResponseWriter, name string) {
	text, png, err := s.manager.Export(name)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"profile": text,
		"qr_png":  base64.StdEncoding.EncodeToString(png),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status, err := s.manager.Status(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}

	type row struct {
		Name           string `json:"name"`
		Address        string `json:"address"`
		PublicKey      string `json:"public_key"`
		NeverConnected bool   `json:"never_connected"`
		Endpoint       string `json:"endpoint,omitempty"`
		LastHandshake  int64  `json:"last_handshake,omitempty"`
		ReceiveBytes   int64  `json:"receive_bytes"`
		TransmitBytes  int64  `json:"transmit_bytes"`
	}
	rows := make([]row, 0, len(status.Peers))
	for _, p := range status.Peers {
		rows = append(rows, row{
			Name:           p.Name,
			Address:        p.Address.String(),
			PublicKey:      p.PublicKey,
			NeverConnected: p.NeverConnected,
			Endpoint:       p.Endpoint,
			LastHandshake:  p.LastHandshake,
			ReceiveBytes:   p.ReceiveBytes,
			TransmitBytes:  p.TransmitBytes,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"interface": status.Interface,
		"peers":     rows,
	})
}

// mapError translates manager sentinels into HTTP statuses.
func (s *Server) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, peers.ErrInvalidName):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, peers.ErrDuplicateName):
		s.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, peers.ErrNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ipalloc.ErrPoolExhausted):
		s.jsonError(w, err.Error(), http.StatusInsufficientStorage)
	case errors.Is(err, control.ErrReloadFailed), errors.Is(err, control.ErrReloadTimeout):
		s.jsonError(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, wgconf.ErrMalformed), errors.Is(err, wgconf.ErrWriteFailed):
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
