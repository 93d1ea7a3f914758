// Package preload loads the personality text and optional example dialogue
// that seed every new session's pinned prefix.
package preload

import (
	"encoding/json"
	"os"

	"github.com/seleneai/selene/internal/logger"
	"github.com/seleneai/selene/internal/session"
)

// DefaultPersonality is used when no preload file can be read.
const DefaultPersonality = "You are a helpful assistant."

// Preload is the parsed contents of a preload file.
type Preload struct {
	Personality string
	Dialogue    []session.Turn
	LoadExample bool
}

type fileFormat struct {
	Config struct {
		LoadExampleDialogue bool `json:"load_example_dialogue"`
	} `json:"config"`
	AIPersonality string         `json:"ai_personality"`
	Dialogue      []session.Turn `json:"dialogue"`
}

// Load reads a preload JSON file. Any error falls back to the default
// personality with no example dialogue, so a broken preload never prevents
// startup.
func Load(path string) Preload {
	fallback := Preload{Personality: DefaultPersonality}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.L.Warn("preload file unavailable; using default personality", "path", path, "error", err)
		return fallback
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		logger.L.Error("preload file is not valid JSON; using default personality", "path", path, "error", err)
		return fallback
	}
	if f.AIPersonality == "" {
		logger.L.Error("preload file has no personality; using default", "path", path)
		return fallback
	}

	return Preload{
		Personality: f.AIPersonality,
		Dialogue:    f.Dialogue,
		LoadExample: f.Config.LoadExampleDialogue,
	}
}
