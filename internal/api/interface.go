package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

type appInterfaceDTO struct {
	ID           string `json:"id,omitempty"`
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	FilePath     string `json:"file_path,omitempty"`
	HTTPSURL     string `json:"https_url,omitempty"`
	HTTPSTimeout int    `json:"https_timeout,omitempty"` // seconds
	MQTTBroker   string `json:"mqtt_broker,omitempty"`
	MQTTTopic    string `json:"mqtt_topic,omitempty"`
	MQTTUsername string `json:"mqtt_username,omitempty"`
	MQTTPassword string `json:"mqtt_password,omitempty"`
}

func toAppInterfaceDTO(i *models.AppInterface) appInterfaceDTO {
	return appInterfaceDTO{
		ID: i.ID, Kind: string(i.Kind), Name: i.Name, FilePath: i.FilePath,
		HTTPSURL: i.HTTPSURL, HTTPSTimeout: int(i.HTTPSTimeout / time.Second),
		MQTTBroker: i.MQTTBroker, MQTTTopic: i.MQTTTopic,
		MQTTUsername: i.MQTTUsername, MQTTPassword: i.MQTTPassword,
	}
}

func applyAppInterfaceDTO(i *models.AppInterface, req *appInterfaceDTO) error {
	if req.Kind != "" {
		i.Kind = models.AppInterfaceKind(req.Kind)
	}
	i.Name = req.Name
	i.FilePath = req.FilePath
	i.HTTPSURL = req.HTTPSURL
	if req.HTTPSTimeout != 0 {
		i.HTTPSTimeout = time.Duration(req.HTTPSTimeout) * time.Second
	}
	i.MQTTBroker = req.MQTTBroker
	i.MQTTTopic = req.MQTTTopic
	i.MQTTUsername = req.MQTTUsername
	i.MQTTPassword = req.MQTTPassword
	return nil
}

func (s *RESTServer) handleGetInterface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	i, err := s.store.FindAppInterfaceByID(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "interface not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toAppInterfaceDTO(i))
}

// handlePutInterface persists the change and hot-swaps the live adapter
// instance via ifmanager, per §4.7.
func (s *RESTServer) handlePutInterface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	i, err := s.store.FindAppInterfaceByID(r.Context(), id)
	if err != nil {
		s.respondNotFoundOr500(w, err, "interface not found")
		return
	}
	var req appInterfaceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := applyAppInterfaceDTO(i, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveAppInterface(r.Context(), i); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.ifaces.Update(i); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toAppInterfaceDTO(i))
}

// handleDeleteInterface refuses to delete while any Application still
// references this id, per §4.7's delete precondition.
func (s *RESTServer) handleDeleteInterface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.FindAppInterfaceByID(r.Context(), id); err != nil {
		s.respondNotFoundOr500(w, err, "interface not found")
		return
	}
	inUse, err := s.store.ExistsApplicationReferencing(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if inUse {
		s.respondError(w, http.StatusBadRequest, "interface is referenced by an application")
		return
	}
	if err := s.store.DeleteAppInterface(r.Context(), id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.ifaces.Delete(id)
	s.respondJSON(w, http.StatusOK, map[string]string{})
}

func (s *RESTServer) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.FindAllAppInterfaces(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]appInterfaceDTO, 0, len(rows))
	for _, i := range rows {
		out = append(out, toAppInterfaceDTO(i))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *RESTServer) handleCreateInterface(w http.ResponseWriter, r *http.Request) {
	var req appInterfaceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		s.respondError(w, http.StatusBadRequest, "kind is required")
		return
	}

	i := &models.AppInterface{ID: uuid.New().String()}
	if err := applyAppInterfaceDTO(i, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveAppInterface(r.Context(), i); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.ifaces.Create(i); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/api/v1/interface/"+i.ID)
	s.respondJSON(w, http.StatusCreated, toAppInterfaceDTO(i))
}
