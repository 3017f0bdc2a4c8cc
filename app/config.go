package chatkit

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/spf13/viper"
)

type Config struct {
	Client struct {
		// BaseURL is the base URL of the chat REST API.
		BaseURL string `validate:"required"`
		// WSURL is the websocket endpoint URL.
		WSURL string `validate:"required"`
		// UserID identifies the local participant.
		UserID string
		// UserName is the display name of the local participant.
		UserName string
		// Token is the bearer token presented to the backend.
		Token string
		// TypingDebounceMS overrides the outbound typing debounce window
		// in milliseconds. Zero keeps the default.
		TypingDebounceMS int
		// TypingQuietMS overrides the partner-typing quiet period in
		// milliseconds. Zero keeps the default.
		TypingQuietMS int
	}
	Server struct {
		// Port is the Port number the devserver listens on. The default is 8080.
		Port int `validate:"required,port"`
		// Hostname is the Hostname to listen on. The default is 0.0.0.0.
		Hostname string `validate:"required"`
		Auth     struct {
			// Secret is the Secret key used to sign JWT tokens.
			// The secret must be a base64 encoded string. The default is
			// a random 32 byte string.
			Secret Base64Encoded `validate:"required"`
		}
		SQLite struct {
			// File is the path to the SQLite database file.
			File string `validate:"required"`
			// Migrations is the path to the directory that the migration files reside.
			Migrations string `validate:"required"`
		}
		// UploadDir is the directory uploaded attachments are written to.
		UploadDir string `validate:"required"`
		// AllowedOrigins is a list of origins that are allowed to connect
		// to the devserver. The default is ["*"].
		AllowedOrigins []string
	}
	valid bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

// LoadConfig loads the configuration from the config file and environment variables.
// Any invalid configuration will not be loaded, and the error will be caught in
// the validation step.
func LoadConfig() (*Config, error) {
	config := &Config{}
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.hostname", "0.0.0.0")
	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	viper.SetDefault("server.auth.secret", base64.StdEncoding.EncodeToString(secret))
	viper.SetDefault("server.sqlite.file", "./chatkit.db")
	viper.SetDefault("server.sqlite.migrations", "./migrations")
	viper.SetDefault("server.uploaddir", "./uploads")

	viper.SetDefault("client.baseurl", "http://localhost:8080")
	viper.SetDefault("client.wsurl", "ws://localhost:8080/ws")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := viper.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func FormatValidationErrors(err error) string {
	errors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ""
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := errors.Translate(trans)

	var sb strings.Builder
	for _, v := range translated {
		sb.WriteString(v)
		sb.WriteString("\n")
	}
	return sb.String()
}
