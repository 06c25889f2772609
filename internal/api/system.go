package api

import (
	"encoding/json"
	"net/http"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// systemDTO is §3's Config singleton shape on the wire. APIToken is
// write-only: GET never returns it (the live value is a bcrypt hash,
// not a secret worth round-tripping), and a PUT only rotates it when
// non-empty.
type systemDTO struct {
	Name            string  `json:"name"`
	Listen          string  `json:"listen"`
	Port            int     `json:"port"`
	WebPort         int     `json:"webport"`
	APIToken        string  `json:"apitoken,omitempty"`
	FreqBand        string  `json:"freqband"`
	NetID           uint32  `json:"netid"`
	OTAAStart       uint32  `json:"otaastart"`
	OTAAEnd         uint32  `json:"otaaend"`
	DuplicatePeriod int     `json:"duplicateperiod"`
	FCRelaxed       bool    `json:"fcrelaxed"`
	MACQueueing     bool    `json:"macqueueing"`
	MACQueueLimit   int     `json:"macqueuelimit"`
	ADREnable       bool    `json:"adrenable"`
	ADRMargin       float64 `json:"adrmargin"`
	ADRCycleTime    int     `json:"adrcycletime"`
	ADRMessageTime  int     `json:"adrmessagetime"`
}

func toSystemDTO(c *models.Config) systemDTO {
	return systemDTO{
		Name: c.Name, Listen: c.Listen, Port: c.Port, WebPort: c.WebPort,
		FreqBand: c.FreqBand, NetID: c.NetID, OTAAStart: c.OTAAStart, OTAAEnd: c.OTAAEnd,
		DuplicatePeriod: c.DuplicatePeriod, FCRelaxed: c.FCRelaxed, MACQueueing: c.MACQueueing,
		MACQueueLimit: c.MACQueueLimit, ADREnable: c.ADREnable, ADRMargin: c.ADRMargin,
		ADRCycleTime: c.ADRCycleTime, ADRMessageTime: c.ADRMessageTime,
	}
}

func (s *RESTServer) handleGetSystem(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, toSystemDTO(s.cfg.Get()))
}

// handlePutSystem applies an admin update to the live Config: validate,
// reload the engine, swap the in-memory copy, then persist, in that
// order, so a rejected reload never reaches storage.
func (s *RESTServer) handlePutSystem(w http.ResponseWriter, r *http.Request) {
	var req systemDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cur := s.cfg.Get()
	next := *cur
	next.Name = req.Name
	next.Listen = req.Listen
	next.Port = req.Port
	next.WebPort = req.WebPort
	next.FreqBand = req.FreqBand
	next.NetID = req.NetID
	next.OTAAStart = req.OTAAStart
	next.OTAAEnd = req.OTAAEnd
	next.DuplicatePeriod = req.DuplicatePeriod
	next.FCRelaxed = req.FCRelaxed
	next.MACQueueing = req.MACQueueing
	next.MACQueueLimit = req.MACQueueLimit
	next.ADREnable = req.ADREnable
	next.ADRMargin = req.ADRMargin
	next.ADRCycleTime = req.ADRCycleTime
	next.ADRMessageTime = req.ADRMessageTime

	if req.APIToken != "" {
		hash, err := HashToken(req.APIToken)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		next.APIToken = hash
	}

	if err := next.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.engine != nil {
		if err := s.engine.Reload(r.Context(), &next); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if err := s.cfg.Set(&next); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.SaveConfig(r.Context(), &next); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toSystemDTO(&next))
}
