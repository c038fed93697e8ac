// Package config loads daemon configuration from a JSON config file with
// environment variable overrides.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Worker    WorkerConfig
	Translate TranslateConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// AuthToken guards the REST API when non-empty. Secret: environment
	// variable only, never written to the config file.
	AuthToken string
}

type OllamaConfig struct {
	BaseURL string
	// Concurrency caps parallel generate calls in block mode.
	Concurrency int
}

type WorkerConfig struct {
	// Command launches the inference worker subprocess.
	Command   string
	ModelsDir string
}

type TranslateConfig struct {
	// Provider selects the backend: "local" (worker subprocess) or
	// "remote" (Ollama server).
	Provider     string
	DefaultModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			Concurrency: 4,
		},
		Worker: WorkerConfig{
			Command:   "lingod-worker",
			ModelsDir: filepath.Join(dataDir, "models"),
		},
		Translate: TranslateConfig{
			Provider:     "local",
			DefaultModel: "gemma2",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/lingod/config.json, then applies LINGOD_* environment
// variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "lingod-data"
		}
	}
	return filepath.Join(dir, "lingod")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "lingod", "config.json")
}
