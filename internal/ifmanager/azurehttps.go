package ifmanager

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// AzureHTTPS forwards decrypted uplinks as JSON POSTs to an Azure IoT
// Hub HTTPS endpoint. One-way outward; Azure's inbound commands arrive
// out of band (not modeled — the HTTPS binding is send-only, matching
// floranet/appserver/azure_iot_https.py). Every call carries the §5
// default 10s request timeout.
type AzureHTTPS struct {
	id      string
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewAzureHTTPS(id, url string, timeout time.Duration) *AzureHTTPS {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AzureHTTPS{id: id, url: url, timeout: timeout, client: &http.Client{Timeout: timeout}}
}

func (a *AzureHTTPS) ID() string { return a.id }

func (a *AzureHTTPS) Start(_ InboundFunc) error { return nil }
func (a *AzureHTTPS) Stop()                     {}

func (a *AzureHTTPS) Valid() (bool, []string) {
	if a.url == "" {
		return false, []string{"https url is empty"}
	}
	return true, nil
}

type azurePayload struct {
	DevEUI string `json:"deveui"`
	Port   uint8  `json:"port"`
	Data   string `json:"data"` // base64
}

func (a *AzureHTTPS) NetServerReceived(device *models.Device, app *models.Application, port uint8, data []byte) {
	body, err := json.Marshal(azurePayload{
		DevEUI: fmt.Sprintf("%x", device.DevEUI),
		Port:   port,
		Data:   base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		log.Error().Err(err).Str("adapter", a.id).Msg("azure_https: marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("adapter", a.id).Msg("azure_https: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("adapter", a.id).Msg("azure_https: post failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("adapter", a.id).Msg("azure_https: non-2xx response")
	}
}

func (a *AzureHTTPS) Marshal() map[string]interface{} {
	return map[string]interface{}{"id": a.id, "kind": "azure_https", "url": a.url}
}
