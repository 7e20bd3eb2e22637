package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"httpgate/types"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type config struct {
	domain string

	httpPort  string
	httpsPort string

	tlsEnabled     bool
	tlsStoragePath string
	acmeEmail      string
	cfAPIToken     string
	acmeStaging    bool

	bufferSize           int
	maxHeaderBytes       int
	keepAliveMaxRequests int
	idleTimeout          time.Duration

	adminEnabled bool
	adminPort    string

	accessLogEnabled bool
	accessLogQueue   int

	logFormat types.LogFormat
	logLevel  zapcore.Level
}

func parse() (*config, error) {
	domain := getenv("DOMAIN", "localhost")

	httpPort := getenv("HTTP_PORT", "8080")
	httpsPort := getenv("HTTPS_PORT", "8443")

	tlsEnabled := getenvBool("TLS_ENABLED", false)
	tlsStoragePath := getenv("TLS_STORAGE_PATH", "certs/tls/")

	acmeEmail := getenv("ACME_EMAIL", "admin@"+domain)
	acmeStaging := getenvBool("ACME_STAGING", false)

	cfToken := getenv("CF_API_TOKEN", "")
	if tlsEnabled && cfToken == "" {
		return nil, fmt.Errorf("CF_API_TOKEN is required when TLS is enabled")
	}

	bufferSize := parseBufferSize()

	maxHeaderBytes, err := getenvInt("MAX_HEADER_BYTES", 64<<10, 1024, 1<<20)
	if err != nil {
		return nil, err
	}

	maxRequests, err := getenvInt("KEEPALIVE_MAX_REQUESTS", 100, 0, 1<<20)
	if err != nil {
		return nil, err
	}

	idleTimeout, err := time.ParseDuration(getenv("IDLE_TIMEOUT", "60s"))
	if err != nil || idleTimeout <= 0 {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT value")
	}

	adminEnabled := getenvBool("ADMIN_ENABLED", false)
	adminPort := getenv("ADMIN_PORT", "6060")

	accessLogEnabled := getenvBool("ACCESS_LOG_ENABLED", true)
	accessLogQueue, err := getenvInt("ACCESS_LOG_QUEUE", 1024, 1, 1<<20)
	if err != nil {
		return nil, err
	}

	logFormat, ok := types.ParseLogFormat(getenv("LOG_FORMAT", "json"))
	if !ok {
		return nil, fmt.Errorf("invalid LOG_FORMAT value")
	}

	logLevel, err := zapcore.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}

	return &config{
		domain:               domain,
		httpPort:             httpPort,
		httpsPort:            httpsPort,
		tlsEnabled:           tlsEnabled,
		tlsStoragePath:       tlsStoragePath,
		acmeEmail:            acmeEmail,
		cfAPIToken:           cfToken,
		acmeStaging:          acmeStaging,
		bufferSize:           bufferSize,
		maxHeaderBytes:       maxHeaderBytes,
		keepAliveMaxRequests: maxRequests,
		idleTimeout:          idleTimeout,
		adminEnabled:         adminEnabled,
		adminPort:            adminPort,
		accessLogEnabled:     accessLogEnabled,
		accessLogQueue:       accessLogQueue,
		logFormat:            logFormat,
		logLevel:             logLevel,
	}, nil
}

func loadEnvFile() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func parseBufferSize() int {
	raw := getenv("BUFFER_SIZE", "32768")
	size, err := strconv.Atoi(raw)
	if err != nil || size < 4096 || size > 1048576 {
		return 4096
	}
	return size
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val == "true"
}

func getenvInt(key string, def, lo, hi int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s value: %d out of range [%d, %d]", key, n, lo, hi)
	}
	return n, nil
}
