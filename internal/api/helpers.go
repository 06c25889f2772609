package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/storage"
)

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("api: marshal response failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondNotFoundOr500 maps storage.ErrNotFound to 404 and anything else
// to 500, per §6's status code table.
func (s *RESTServer) respondNotFoundOr500(w http.ResponseWriter, err error, notFoundMsg string) {
	if err == storage.ErrNotFound {
		s.respondError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func parseEUI(s string) ([8]byte, error) {
	var eui [8]byte
	if len(s) != 16 {
		return eui, fmt.Errorf("invalid eui length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return eui, err
	}
	copy(eui[:], b)
	return eui, nil
}

func euiString(e [8]byte) string { return hex.EncodeToString(e[:]) }

func parseDevAddrHex(s string) (uint32, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid devaddr length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func devAddrString(v uint32) string { return fmt.Sprintf("%08x", v) }

func keyString(k [16]byte) string { return hex.EncodeToString(k[:]) }

// bodyTokenField extracts a top-level "token" field from a JSON body
// without otherwise validating its shape, for §6's body-token fallback.
func bodyTokenField(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(body, &probe)
	return probe.Token
}

func parseKey(s string) ([16]byte, error) {
	var k [16]byte
	if len(s) != 32 {
		return k, fmt.Errorf("invalid key length")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}
