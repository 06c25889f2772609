package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lorawan-server/floranet-ns/internal/models"
	"github.com/lorawan-server/floranet-ns/internal/storage"
)

type deviceDTO struct {
	DevEUI     string    `json:"deveui"`
	Name       string    `json:"name"`
	Class      string    `json:"class"`
	Enabled    bool      `json:"enabled"`
	OTAA       bool      `json:"otaa"`
	AppEUI     string    `json:"appeui"`
	DevAddr    string    `json:"devaddr,omitempty"`
	NwkSKey    string    `json:"nwkskey,omitempty"`
	AppSKey    string    `json:"appskey,omitempty"`
	FCntUp     uint16    `json:"fcntup"`
	FCntDown   uint16    `json:"fcntdown"`
	FCntError  bool      `json:"fcnterror"`
	ADR        bool      `json:"adr"`
	TxDatr     string    `json:"tx_datr,omitempty"`
	SNRAverage *float64  `json:"snr_average,omitempty"`
	AppName    string    `json:"appname,omitempty"`
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}

func toDeviceDTO(d *models.Device) deviceDTO {
	dto := deviceDTO{
		DevEUI: euiString(d.DevEUI), Name: d.Name, Class: string(d.Class), Enabled: d.Enabled,
		OTAA: d.OTAA, AppEUI: euiString(d.AppEUI), FCntUp: d.FCntUp, FCntDown: d.FCntDown,
		FCntError: d.FCntError, ADR: d.ADR, TxDatr: d.TxDatr, SNRAverage: d.SNRAverage, AppName: d.AppName,
		Latitude: d.Latitude, Longitude: d.Longitude, Created: d.Created, Updated: d.Updated,
	}
	if d.DevAddr != nil {
		dto.DevAddr = devAddrString(*d.DevAddr)
	}
	if d.NwkSKey != nil {
		dto.NwkSKey = keyString(*d.NwkSKey)
	}
	if d.AppSKey != nil {
		dto.AppSKey = keyString(*d.AppSKey)
	}
	return dto
}

// applyDeviceDTO copies admin-settable fields from req onto d. Frame
// counters, SNR history, and devnonce history are engine-owned and
// never admin-writable through this surface.
func applyDeviceDTO(d *models.Device, req *deviceDTO) error {
	d.Name = req.Name
	if req.Class != "" {
		d.Class = models.DevClass(req.Class)
	}
	d.Enabled = req.Enabled
	d.OTAA = req.OTAA
	if req.AppEUI != "" {
		eui, err := parseEUI(req.AppEUI)
		if err != nil {
			return fmt.Errorf("invalid appeui")
		}
		d.AppEUI = eui
	}
	if req.OTAA {
		d.DevAddr = nil
		d.NwkSKey = nil
		d.AppSKey = nil
	} else {
		if req.DevAddr != "" {
			addr, err := parseDevAddrHex(req.DevAddr)
			if err != nil {
				return fmt.Errorf("invalid devaddr")
			}
			d.DevAddr = &addr
		}
		if req.NwkSKey != "" {
			k, err := parseKey(req.NwkSKey)
			if err != nil {
				return fmt.Errorf("invalid nwkskey")
			}
			d.NwkSKey = &k
		}
		if req.AppSKey != "" {
			k, err := parseKey(req.AppSKey)
			if err != nil {
				return fmt.Errorf("invalid appskey")
			}
			d.AppSKey = &k
		}
	}
	d.AppName = req.AppName
	d.Latitude = req.Latitude
	d.Longitude = req.Longitude
	return nil
}

func (s *RESTServer) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	eui, err := parseEUI(chi.URLParam(r, "deveui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid deveui")
		return
	}
	d, err := s.store.FindDeviceByDevEUI(r.Context(), eui)
	if err != nil {
		s.respondNotFoundOr500(w, err, "device not found")
		return
	}
	s.respondJSON(w, http.StatusOK, toDeviceDTO(d))
}

func (s *RESTServer) handlePutDevice(w http.ResponseWriter, r *http.Request) {
	eui, err := parseEUI(chi.URLParam(r, "deveui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid deveui")
		return
	}
	d, err := s.store.FindDeviceByDevEUI(r.Context(), eui)
	if err != nil {
		s.respondNotFoundOr500(w, err, "device not found")
		return
	}

	var req deviceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := applyDeviceDTO(d, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveDevice(r.Context(), d); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, toDeviceDTO(d))
}

func (s *RESTServer) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	eui, err := parseEUI(chi.URLParam(r, "deveui"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid deveui")
		return
	}
	if _, err := s.store.FindDeviceByDevEUI(r.Context(), eui); err != nil {
		s.respondNotFoundOr500(w, err, "device not found")
		return
	}
	if err := s.store.DeleteDevice(r.Context(), eui); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{})
}

func (s *RESTServer) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.FindAllDevices(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]deviceDTO, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceDTO(d))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *RESTServer) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	eui, err := parseEUI(req.DevEUI)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid deveui")
		return
	}
	if _, err := s.store.FindDeviceByDevEUI(r.Context(), eui); err == nil {
		s.respondError(w, http.StatusBadRequest, "device already exists")
		return
	}

	d := &models.Device{DevEUI: eui, Class: models.ClassA}
	if err := applyDeviceDTO(d, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SaveDevice(r.Context(), d); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusBadRequest, "device already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/api/v1/device/"+euiString(eui))
	s.respondJSON(w, http.StatusCreated, toDeviceDTO(d))
}
