package persist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DeviceKey holds the generated device identifier.
const DeviceKey = "encore.device.id"

// DeviceID returns the device identifier stored in kv, generating and
// storing a new one on first use.
func DeviceID(kv KV) (string, error) {
	data, err := kv.Get(DeviceKey)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := kv.Set(DeviceKey, []byte(id)); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}
