package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr          string
	PortalBridgeURL   string
	PortalToken       string
	PortalTimeout     time.Duration
	DefaultAuthMethod string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; variables already set are not overridden.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: .env ignored: %v", err)
	}

	return Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":"+getenv("PORT", "3000")),
		PortalBridgeURL:   getenv("PORTAL_BRIDGE_URL", "http://127.0.0.1:8090"),
		PortalToken:       os.Getenv("PORTAL_TOKEN"),
		PortalTimeout:     getenvDuration("PORTAL_TIMEOUT", 30*time.Second),
		DefaultAuthMethod: getenv("DEFAULT_AUTH_METHOD", "none"),
		ReadHeaderTimeout: getenvDuration("READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:   getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
