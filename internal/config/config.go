package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type GatewayConfig struct {
	Addr            string
	DBPath          string
	MQTTBroker      string
	MQTTClientID    string
	AuthServiceURL  string
	AuthInternalKey string
	JWTSecret       string
	Timezone        string
	LogLevel        string

	Upload UploadConfig

	RedisAddr     string
	RedisPassword string
	TrackCacheTTL time.Duration

	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// UploadConfig selects the upload backend. Backend is "local" or "ftp".
type UploadConfig struct {
	Backend     string
	Dir         string
	BaseURL     string
	MaxBytes    int64
	FTPHost     string
	FTPPort     string
	FTPUser     string
	FTPPassword string
}

type AuthConfig struct {
	Addr           string
	DBPath         string
	InternalKey    string
	JWTSecret      string
	TokenTTL       time.Duration
	LogLevel       string
	BootstrapAdmin bool
	BootstrapUser  string
	BootstrapPass  string
}

type NotifierConfig struct {
	Addr            string
	MQTTBroker      string
	MQTTClientID    string
	EventBufferSize int
	LogLevel        string
}

// LoadDotEnv reads a .env file into the process environment when one exists.
// It reports whether a file was loaded.
func LoadDotEnv(paths ...string) bool {
	return godotenv.Load(paths...) == nil
}

func LoadGateway() GatewayConfig {
	return GatewayConfig{
		Addr:            getenv("GATEWAY_ADDR", ":8080"),
		DBPath:          getenv("DB_PATH", "./data/citizenportal.db"),
		MQTTBroker:      getenv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    getenv("MQTT_CLIENT_ID", "citizenportal-gateway"),
		AuthServiceURL:  getenv("AUTH_SERVICE_URL", "http://localhost:8090"),
		AuthInternalKey: getenv("AUTH_INTERNAL_KEY", "dev-internal-key"),
		JWTSecret:       getenv("JWT_SECRET", "dev-jwt-secret"),
		Timezone:        getenv("TIMEZONE", "Asia/Bangkok"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		Upload: UploadConfig{
			Backend:     getenv("UPLOAD_BACKEND", "local"),
			Dir:         getenv("UPLOAD_DIR", "./data/uploads"),
			BaseURL:     getenv("UPLOAD_BASE_URL", "/files"),
			MaxBytes:    int64(parseInt(getenv("UPLOAD_MAX_BYTES", "10485760"), 10<<20)),
			FTPHost:     getenv("FTP_HOST", "localhost"),
			FTPPort:     getenv("FTP_PORT", "21"),
			FTPUser:     getenv("FTP_USER", ""),
			FTPPassword: getenv("FTP_PASSWORD", ""),
		},
		RedisAddr:        getenv("REDIS_ADDR", ""),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		TrackCacheTTL:    parseDuration(getenv("TRACK_CACHE_TTL", "30s"), 30*time.Second),
		SubmitRateLimit:  parseInt(getenv("SUBMIT_RATE_LIMIT", "20"), 20),
		SubmitRateWindow: parseDuration(getenv("SUBMIT_RATE_WINDOW", "1m"), time.Minute),
	}
}

func LoadAuth() AuthConfig {
	return AuthConfig{
		Addr:           getenv("AUTH_ADDR", ":8090"),
		DBPath:         getenv("AUTH_DB_PATH", "./auth_data/auth.db"),
		InternalKey:    getenv("AUTH_INTERNAL_KEY", "dev-internal-key"),
		JWTSecret:      getenv("JWT_SECRET", "dev-jwt-secret"),
		TokenTTL:       parseDuration(getenv("JWT_TTL", "12h"), 12*time.Hour),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		BootstrapAdmin: getenv("AUTH_BOOTSTRAP_ADMIN", "true") == "true",
		BootstrapUser:  getenv("AUTH_BOOTSTRAP_ADMIN_USER", "admin"),
		BootstrapPass:  getenv("AUTH_BOOTSTRAP_ADMIN_PASS", "admin123"),
	}
}

func LoadNotifier() NotifierConfig {
	return NotifierConfig{
		Addr:            getenv("NOTIFIER_ADDR", ":8081"),
		MQTTBroker:      getenv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:    getenv("MQTT_CLIENT_ID", "citizenportal-notifier"),
		EventBufferSize: parseInt(getenv("EVENT_BUFFER_SIZE", "50"), 50),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}
}

// Location resolves the configured timezone. Asset codes are date-stamped
// in this zone, so a bad value falls back to a fixed UTC+7 offset.
func (c GatewayConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("ICT", 7*60*60)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	return def
}

// parseDuration accepts Go durations ("30s", "12h") or a bare number of seconds.
func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if i, err := strconv.Atoi(s); err == nil {
		return time.Duration(i) * time.Second
	}
	return def
}
