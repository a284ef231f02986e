package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// resolveUserID returns the anonymous per-device identifier. An explicit
// -user flag wins; otherwise a UUID is generated once and persisted under the
// user's config directory so the learning profile survives restarts.
func resolveUserID(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return uuid.NewString(), nil
	}
	path := filepath.Join(configDir, "talkco", "device_id")

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return id, err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return id, err
	}
	return id, nil
}
