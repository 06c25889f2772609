package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

type applicationDTO struct {
	AppEUI         string `json:"appeui"`
	Name           string `json:"name"`
	Domain         string `json:"domain"`
	AppKey         string `json:"appkey,omitempty"`
	FPort          uint8  `json:"fport"`
	AppInterfaceID string `json:"appinterface_id,omitempty"`
}

func toApplicationDTO(a *models.Application) applicationDTO {
	dto := applicationDTO{
		AppEUI: euiString(a.AppEUI), Name: a.Name, Domain: a.Domain,
		AppKey: keyString(a.AppKey), FPort: a.FPort,
	}
	if a.AppInterfaceID != nil {
		dto.AppInterfaceID = *a.AppInterfaceID
	}
	return dto
}

func applyApplicationDTO(a *models.Application, req *applicationDTO) error {
	a.Name = req.Name
	a.Domain = req.Domain
	if req.AppKey != "" {
		k, err := parseKey(req.AppKey)
		if err != nil {
			return err
		}
		a.AppKey = k
	}
	if req.FPort != 0 {
		a.FPort = req.FPort
	}
	if req.AppInterfaceID != "" {
		id := req.AppInterfaceID
		a.AppInterfaceID = &id
	} else {
		a.AppInterfaceID = nil
	}
	return nil
}

func (s *RESTServer) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	eui, err := parseEUI(chi.URLParam(r, "appeui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid appeui")
		return
	}
	a, err := s.store.FindApplicationByAppEUI(r.Context(), eui)
	if err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toApplicationDTO(a))
}

func (s *RESTServer) handlePutApplication(w http.ResponseWriter, r *http.Request) {
	eui, err := parseEUI(chi.URLParam(r, "appeui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid appeui")
		return
	}
	a, err := s.store.FindApplicationByAppEUI(r.Context(), eui)
	if err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	var req applicationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := applyApplicationDTO(a, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveApplication(r.Context(), a); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toApplicationDTO(a))
}

func (s *RESTServer) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	eui, err := parseEUI(chi.URLParam(r, "appeui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid appeui")
		return
	}
	if _, err := s.store.FindApplicationByAppEUI(r.Context(), eui); err != nil {
		s.respondNotFoundOr500(w, err, "application not found")
		return
	}
	if err := s.store.DeleteApplication(r.Context(), eui); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{})
}

func (s *RESTServer) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.FindAllApplications(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]applicationDTO, 0, len(apps))
	for _, a := range apps {
		out = append(out, toApplicationDTO(a))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *RESTServer) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req applicationDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	eui, err := parseEUI(req.AppEUI)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid appeui")
		return
	}
	if _, err := s.store.FindApplicationByAppEUI(r.Context(), eui); err == nil {
		s.respondError(w, http.StatusBadRequest, "application already exists")
		return
	}

	a := &models.Application{ID: uuid.New().String(), AppEUI: eui, FPort: 1}
	if err := applyApplicationDTO(a, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveApplication(r.Context(), a); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusBadRequest, "application already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/api/v1/app/"+euiString(eui))
	s.respondJSON(w, http.StatusCreated, toApplicationDTO(a))
}
