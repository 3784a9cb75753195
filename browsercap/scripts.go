package browsercap

import (
	"context"
	"encoding/json"
	"fmt"

	_ "embed"
)

// The engine's in-page programs. Exported so fakes can recognise them by
// identity and adapters can pre-compile them.
var (
	//go:embed scripts/read_storage.js
	ScriptReadStorage string

	//go:embed scripts/write_storage.js
	ScriptWriteStorage string

	//go:embed scripts/fingerprint.js
	ScriptFingerprint string

	//go:embed scripts/geolocation.js
	ScriptGeolocation string
)

// StorageData is the result of a storage read pass.
type StorageData struct {
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
	Errors         []string          `json:"errors,omitempty"`
}

// WriteFailure is one storage key that could not be written.
type WriteFailure struct {
	Area  string `json:"area"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// ReadStorage runs the storage read program in the target's page context and
// returns every key currently present in both storage areas.
func ReadStorage(ctx context.Context, p Provider, targetID string) (StorageData, error) {
	raw, err := p.RunInPage(ctx, targetID, ScriptReadStorage)
	if err != nil {
		return StorageData{}, fmt.Errorf("browsercap: read storage: %w", err)
	}
	var data StorageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return StorageData{}, fmt.Errorf("browsercap: decode storage: %w", err)
	}
	return data, nil
}

// WriteStorage runs one write pass setting every given key in the target's
// page context. A failing key never prevents the others from being
// attempted; per-key failures come back in the result.
func WriteStorage(ctx context.Context, p Provider, targetID string, local, sess map[string]string) ([]WriteFailure, error) {
	raw, err := p.RunInPage(ctx, targetID, ScriptWriteStorage, local, sess)
	if err != nil {
		return nil, fmt.Errorf("browsercap: write storage: %w", err)
	}
	var out struct {
		Failed []WriteFailure `json:"failed"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("browsercap: decode write result: %w", err)
	}
	return out.Failed, nil
}
