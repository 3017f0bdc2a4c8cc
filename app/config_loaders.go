package chatkit

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type ConfigLoader interface {
	Load() (*Config, error)
}

// EnvConfigLoader loads the configuration from environment variables.
// The SERVER_AUTH_SECRET environment variable is expected to be a
// base64-encoded string. It is decoded into a byte slice and used as the
// secret key for signing JWT tokens. SERVER_ALLOWED_ORIGINS is expected
// to be a comma-separated list of origins.
type EnvConfigLoader struct {
}

func (l *EnvConfigLoader) Load() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		return nil, err
	}

	config := &Config{}

	port, _ := strconv.Atoi(getEnv("SERVER_PORT"))
	config.Server.Port = port
	config.Server.Hostname = getEnv("SERVER_HOSTNAME")

	secret, err := base64.StdEncoding.DecodeString(getEnv("SERVER_AUTH_SECRET"))
	if err != nil {
		return nil, errors.New("invalid secret value")
	}
	config.Server.Auth.Secret = secret

	config.Server.SQLite.File = getEnv("SERVER_SQLITE_FILE")
	config.Server.SQLite.Migrations = getEnv("SERVER_SQLITE_MIGRATIONS")
	config.Server.UploadDir = getEnv("SERVER_UPLOADDIR")
	config.Server.AllowedOrigins = strings.Split(getEnv("SERVER_ALLOWED_ORIGINS"), ",")

	config.Client.BaseURL = getEnv("CLIENT_BASEURL")
	config.Client.WSURL = getEnv("CLIENT_WSURL")
	config.Client.UserID = getEnv("CLIENT_USERID")
	config.Client.UserName = getEnv("CLIENT_USERNAME")
	config.Client.Token = getEnv("CLIENT_TOKEN")

	return config, nil
}

type DefaultConfigLoader struct {
}

func (l *DefaultConfigLoader) Load() (*Config, error) {
	// Generate a random secret
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	if err != nil {
		return nil, errors.New("failed to generate secret")
	}

	config := &Config{}
	config.Server.Port = 8080
	config.Server.Hostname = "0.0.0.0"
	config.Server.Auth.Secret = secret
	config.Server.SQLite.File = "./chatkit.db"
	config.Server.SQLite.Migrations = "./migrations"
	config.Server.UploadDir = "./uploads"
	config.Server.AllowedOrigins = []string{"*"}
	config.Client.BaseURL = "http://localhost:8080"
	config.Client.WSURL = "ws://localhost:8080/ws"
	return config, nil
}

// Utility function to get an environment variable with a default value
func getEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return value
}
