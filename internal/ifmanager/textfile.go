package ifmanager

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/floranet-ns/internal/models"
)

// TextFileSink appends one line per received uplink to a configured
// file, "<RFC3339 UTC time> <devEUI hex>: <payload>\n". One-way only (no
// inbound callback).
// Grounded on floranet/appserver/file_text_store.py.
type TextFileSink struct {
	id   string
	path string

	mu sync.Mutex
	f  *os.File
}

func NewTextFileSink(id, path string) *TextFileSink {
	return &TextFileSink{id: id, path: path}
}

func (t *TextFileSink) ID() string { return t.id }

func (t *TextFileSink) Start(_ InboundFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("ifmanager: text_file_sink open %s: %w", t.path, err)
	}
	t.f = f
	return nil
}

func (t *TextFileSink) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f != nil {
		t.f.Close()
		t.f = nil
	}
}

func (t *TextFileSink) Valid() (bool, []string) {
	if t.path == "" {
		return false, []string{"file path is empty"}
	}
	return true, nil
}

func (t *TextFileSink) NetServerReceived(device *models.Device, app *models.Application, port uint8, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return
	}
	line := fmt.Sprintf("%s %x: %s\n", time.Now().UTC().Format(time.RFC3339), device.DevEUI, data)
	if _, err := t.f.WriteString(line); err != nil {
		log.Error().Err(err).Str("adapter", t.id).Msg("text_file_sink: write failed")
	}
}

func (t *TextFileSink) Marshal() map[string]interface{} {
	return map[string]interface{}{"id": t.id, "kind": "text_file_sink", "path": t.path}
}
