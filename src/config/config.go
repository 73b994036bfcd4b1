package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultPort       = 3000
	DefaultModel      = "gemini-1.5-flash"
	DefaultRelayURL   = "http://localhost:3000/analyze-image"
	APIKeyEnvVar      = "GOOGLE_API_KEY"
	APIKeyPathEnvVar  = "GOOGLE_API_KEY_FILE"
	EnvFileEnvVar     = "SNAPSIGHT_ENV"
	MaxRequestBodyMiB = 50
)

type LoadOptions struct {
	EnvFileOverride    string
	APIKeyPathOverride string
	PortOverride       int
	RelayURLOverride   string
}

type Config struct {
	Port              int
	APIKey            string
	APIKeyPath        string
	Model             string
	RelayURL          string
	StatePath         string
	BrowserControlURL string
	CORSOrigins       []string
	EnableFileLogging bool
	LogLevel          string
	MaxBodyBytes      int64
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) explicit env file override
	// 2) .env in the working directory, then next to the executable
	// 3) SNAPSIGHT_ENV pointing at a config file
	envPath := resolveEnvPath(opts.EnvFileOverride)
	dotenvValues := readDotenvValues(envPath)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	port := DefaultPort
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			port = n
		}
	}
	if opts.PortOverride > 0 {
		port = opts.PortOverride
	}

	relayURL := getEnvWithDefault("RELAY_URL", DefaultRelayURL)
	if override := strings.TrimSpace(opts.RelayURLOverride); override != "" {
		relayURL = override
	}

	apiKeyPath := resolveAPIKeyPath(opts, dotenvValues)

	cfg := &Config{
		Port:              port,
		APIKey:            resolveAPIKey(apiKeyPath),
		APIKeyPath:        apiKeyPath,
		Model:             getEnvWithDefault("MODEL", DefaultModel),
		RelayURL:          relayURL,
		StatePath:         os.Getenv("STATE_DB"),
		BrowserControlURL: strings.TrimSpace(os.Getenv("BROWSER_CONTROL_URL")),
		CORSOrigins:       splitList(getEnvWithDefault("CORS_ORIGINS", "*")),
		EnableFileLogging: strings.ToLower(os.Getenv("ENABLE_FILE_LOGGING")) == "true",
		LogLevel:          getEnvWithDefault("LOG_LEVEL", "info"),
		MaxBodyBytes:      MaxRequestBodyMiB << 20,
	}

	return cfg, nil
}

func resolveEnvPath(override string) string {
	if override = strings.TrimSpace(override); override != "" {
		if _, err := os.Stat(override); err == nil {
			return override
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}

	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvFileEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func readDotenvValues(envPath string) map[string]string {
	if envPath == "" {
		return map[string]string{}
	}

	values, err := godotenv.Read(envPath)
	if err != nil {
		return map[string]string{}
	}

	return values
}

func resolveAPIKeyPath(opts LoadOptions, dotenvValues map[string]string) string {
	keyPath := ""

	if envPath := strings.TrimSpace(os.Getenv(APIKeyPathEnvVar)); envPath != "" {
		keyPath = envPath
	}

	if dotenvPath := strings.TrimSpace(dotenvValues[APIKeyPathEnvVar]); dotenvPath != "" {
		keyPath = dotenvPath
	}

	if overridePath := strings.TrimSpace(opts.APIKeyPathOverride); overridePath != "" {
		keyPath = overridePath
	}

	return keyPath
}

func resolveAPIKey(keyPath string) string {
	if keyPath != "" {
		if data, err := os.ReadFile(keyPath); err == nil {
			if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
				return fileKey
			}
		}
	}

	return os.Getenv(APIKeyEnvVar)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
