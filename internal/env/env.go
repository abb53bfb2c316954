package env

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	GatewayURL   = "GATEWAY_URL"
	GatewayToken = "GATEWAY_TOKEN"
	RealtimeURL  = "REALTIME_URL"
	UserID       = "USER_ID"
	DataDir      = "DATA_DIR"
	MetricsAddr  = "METRICS_ADDR"
	LogLevel     = "LOG_LEVEL"
)

// Load reads a .env file if present (development convenience) and verifies
// the required variables are set.
func Load() error {
	_ = godotenv.Load()

	required := []string{
		GatewayURL,
		GatewayToken,
		UserID,
	}
	for _, key := range required {
		if os.Getenv(key) == "" {
			return &MissingError{Key: key}
		}
	}
	return nil
}

type MissingError struct {
	Key string
}

func (e *MissingError) Error() string {
	return "env: required environment variable not set: " + e.Key
}

func Get(key string) string {
	return os.Getenv(key)
}

func GetOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}
