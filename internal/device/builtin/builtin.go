// Package builtin embeds the factory device descriptors shipped with
// avrbridge, ported from the original implementation's devices/*.cpp
// tables (attiny45, atmega644p, atmega16hva).
package builtin

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/hollowmark/avrbridge/internal/device"
)

//go:embed *.json
var seedFiles embed.FS

// Load parses every embedded *.json descriptor, keyed by Descriptor.Name.
func Load() (map[string]device.Descriptor, error) {
	entries, err := seedFiles.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("builtin: read embedded descriptors: %w", err)
	}

	out := make(map[string]device.Descriptor, len(entries))

	for _, entry := range entries {
		raw, err := seedFiles.ReadFile(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("builtin: read %s: %w", entry.Name(), err)
		}

		var d device.Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("builtin: parse %s: %w", entry.Name(), err)
		}

		out[d.Name] = d
	}

	return out, nil
}
