package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

type gatewayDTO struct {
	Host         string    `json:"host"`
	EUI          string    `json:"eui"`
	Name         string    `json:"name"`
	Enabled      bool      `json:"enabled"`
	Power        int       `json:"power"`
	Port         int       `json:"port,omitempty"`
	LastPullAddr string    `json:"last_pull_addr,omitempty"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
}

func toGatewayDTO(g *models.Gateway) gatewayDTO {
	return gatewayDTO{
		Host: g.Host, EUI: euiString(g.EUI), Name: g.Name, Enabled: g.Enabled,
		Power: g.Power, Port: g.Port, LastPullAddr: g.LastPullAddr, LastSeen: g.LastSeen,
	}
}

func applyGatewayDTO(g *models.Gateway, req *gatewayDTO) error {
	g.Name = req.Name
	g.Enabled = req.Enabled
	g.Power = req.Power
	if req.EUI != "" {
		eui, err := parseEUI(req.EUI)
		if err != nil {
			return err
		}
		g.EUI = eui
	}
	return nil
}

// registry stays in sync with storage on every admin mutation: it is
// not repopulated from storage except at startup, per
// internal/gatewaywan's doc comment.

func (s *RESTServer) handleGetGateway(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	g, err := s.store.FindGatewayByHost(r.Context(), host)
	if err != nil {
		s.respondNotFoundOr500(w, err, "gateway not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toGatewayDTO(g))
}

func (s *RESTServer) handlePutGateway(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	g, err := s.store.FindGatewayByHost(r.Context(), host)
	if err != nil {
		s.respondNotFoundOr500(w, err, "gateway not found")
		return
	}
	var req gatewayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := applyGatewayDTO(g, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveGateway(r.Context(), g); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.UpdateGateway(host, g)
	s.respondJSON(w, http.StatusOK, toGatewayDTO(g))
}

func (s *RESTServer) handleDeleteGateway(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	if _, err := s.store.FindGatewayByHost(r.Context(), host); err != nil {
		s.respondNotFoundOr500(w, err, "gateway not found")
		return
	}
	if err := s.store.DeleteGateway(r.Context(), host); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.DeleteGateway(host)
	s.respondJSON(w, http.StatusOK, map[string]string{})
}

func (s *RESTServer) handleListGateways(w http.ResponseWriter, r *http.Request) {
	gws, err := s.store.FindAllGateways(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]gatewayDTO, 0, len(gws))
	for _, g := range gws {
		out = append(out, toGatewayDTO(g))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *RESTServer) handleCreateGateway(w http.ResponseWriter, r *http.Request) {
	var req gatewayDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Host == "" {
		s.respondError(w, http.StatusBadRequest, "host is required")
		return
	}
	if _, err := s.store.FindGatewayByHost(r.Context(), req.Host); err == nil {
		s.respondError(w, http.StatusBadRequest, "gateway already exists")
		return
	}

	g := &models.Gateway{ID: uuid.New().String(), Host: req.Host, Enabled: req.Enabled, Power: req.Power, Name: req.Name}
	if req.EUI != "" {
		eui, err := parseEUI(req.EUI)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid eui")
			return
		}
		g.EUI = eui
	}
	if err := s.store.SaveGateway(r.Context(), g); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusBadRequest, "gateway already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.registry.AddGateway(g)
	w.Header().Set("Location", "/api/v1/gateway/"+g.Host)
	s.respondJSON(w, http.StatusCreated, toGatewayDTO(g))
}
