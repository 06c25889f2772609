package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

type propertyDTO struct {
	AppEUI string `json:"appeui"`
	Port   uint8  `json:"port"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

func toPropertyDTO(appEUI [8]byte, p *models.AppProperty) propertyDTO {
	return propertyDTO{AppEUI: euiString(appEUI), Port: p.Port, Name: p.Name, Type: string(p.Type)}
}

// resolveApplication looks up the Application named by the appeui path
// param, shared by every /property handler since AppProperty rows are
// keyed by the application's internal id, not its AppEUI.
func (s *RESTServer) resolveApplication(r *http.Request) (*models.Application, error) {
	eui, err := parseEUI(chi.URLParam(r, "appeui"))
	if err != nil {
		return nil, err
	}
	return s.store.FindApplicationByAppEUI(r.Context(), eui)
}

func parsePort(r *http.Request) (uint8, error) {
	v := r.URL.Query().Get("port")
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(n), nil
}

func (s *RESTServer) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApplication(r)
	if err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	port, err := parsePort(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid or missing port")
		return
	}
	p, err := s.store.FindAppProperty(r.Context(), app.ID, port)
	if err != nil {
		s.respondNotFoundOr500(w, err, "property not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toPropertyDTO(app.AppEUI, p))
}

func (s *RESTServer) handlePutProperty(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApplication(r)
	if err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	port, err := parsePort(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid or missing port")
		return
	}
	p, err := s.store.FindAppProperty(r.Context(), app.ID, port)
	if err != nil {
		s.respondNotFoundOr500(w, err, "property not found")
		return
	}
	var req propertyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		p.Name = req.Name
	}
	if req.Type != "" {
		p.Type = models.PropertyType(req.Type)
	}
	if err := s.store.SaveAppProperty(r.Context(), p); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toPropertyDTO(app.AppEUI, p))
}

func (s *RESTServer) handleDeleteProperty(w http.ResponseWriter, r *http.Request) {
	app, err := s.resolveApplication(r)
	if err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	port, err := parsePort(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid or missing port")
		return
	}
	if _, err := s.store.FindAppProperty(r.Context(), app.ID, port); err != nil {
		s.respondNotFoundOr500(w, err, "property not found")
		return
	}
	if err := s.store.DeleteAppProperty(r.Context(), app.ID, port); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{})
}

func (s *RESTServer) handleListProperties(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.FindAllAppProperties(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	apps, err := s.store.FindAllApplications(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	euiByID := make(map[string][8]byte, len(apps))
	for _, a := range apps {
		euiByID[a.ID] = a.AppEUI
	}
	out := make([]propertyDTO, 0, len(rows))
	for _, p := range rows {
		out = append(out, toPropertyDTO(euiByID[p.ApplicationID], p))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *RESTServer) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var req propertyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	eui, err := parseEUI(req.AppEUI)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid appeui")
		return
	}
	app, err := s.store.FindApplicationByAppEUI(r.Context(), eui)
	if err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	if req.Port == 0 || req.Name == "" || req.Type == "" {
		s.respondError(w, http.StatusBadRequest, "port, name and type are required")
		return
	}
	if _, err := s.store.FindAppProperty(r.Context(), app.ID, req.Port); err == nil {
		s.respondError(w, http.StatusBadRequest, "property already exists")
		return
	}

	p := &models.AppProperty{
		ID: uuid.New().String(), ApplicationID: app.ID, Port: req.Port,
		Name: req.Name, Type: models.PropertyType(req.Type),
	}
	if err := s.store.SaveAppProperty(r.Context(), p); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusBadRequest, "property already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/api/v1/property/"+euiString(eui)+"?port="+strconv.Itoa(int(req.Port)))
	s.respondJSON(w, http.StatusCreated, toPropertyDTO(eui, p))
}
