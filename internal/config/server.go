package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Server holds everything cmd/server reads from the environment
type Server struct {
	Port                string
	LogLevel            string
	LogFormat           string
	JWTSecret           string
	AuthRequired        bool
	AuthUsers           map[string]string // username -> bcrypt hash
	FirebaseCredsBase64 string
	FirebaseCredsFile   string
	CORSAllowedOrigins  []string
}

// NewViper loads .env (if present) and returns a viper bound to the process
// environment with server defaults applied.
func NewViper() *viper.Viper {
	if err := godotenv.Load(); err != nil {
		log.Debug("⚠️  .env file not found, using environment variables from system")
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("APP_JWT_SECRET", "")
	v.SetDefault("AUTH_REQUIRED", false)
	v.SetDefault("AUTH_USERS", "")
	v.SetDefault("FIREBASE_CREDENTIALS_BASE64", "")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	return v
}

// LoadServer reads the server configuration from v
func LoadServer(v *viper.Viper) (Server, error) {
	cfg := Server{
		Port:                v.GetString("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		JWTSecret:           v.GetString("APP_JWT_SECRET"),
		AuthRequired:        v.GetBool("AUTH_REQUIRED"),
		FirebaseCredsBase64: v.GetString("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredsFile:   v.GetString("FIREBASE_CREDENTIALS_FILE"),
		CORSAllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}

	users, err := parseAuthUsers(v.GetString("AUTH_USERS"))
	if err != nil {
		return Server{}, err
	}
	cfg.AuthUsers = users

	if cfg.AuthRequired && cfg.JWTSecret == "" {
		return Server{}, fmt.Errorf("AUTH_REQUIRED is set but APP_JWT_SECRET is empty")
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	return cfg, nil
}

// parseAuthUsers reads "user:hash,user2:hash2". bcrypt hashes contain '$'
// but never ':' so the first colon splits the pair.
func parseAuthUsers(raw string) (map[string]string, error) {
	users := map[string]string{}
	for _, entry := range splitList(raw) {
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("AUTH_USERS entry %q: want username:bcrypt-hash", entry)
		}
		users[name] = hash
	}
	return users, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
