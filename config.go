package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

// Config holds server, mail and client settings.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Mail   MailConfig   `yaml:"mail"`
	Log    LogConfig    `yaml:"log"`
	Client ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	Mode           string   `yaml:"mode"` // gin mode: debug | release | test
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MailConfig describes the single account used as SMTP login, sender and
// recipient.
type MailConfig struct {
	Transport string `yaml:"transport"` // "smtp" | "log"
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	FromName  string `yaml:"from_name"`
}

type LogConfig struct {
	Mode     string `yaml:"mode"` // "development" | "production"
	HashSalt string `yaml:"hash_salt"`
}

type ClientConfig struct {
	RelayURL string        `yaml:"relay_url"`
	Timeout  time.Duration `yaml:"timeout"` // zero means no client-side timeout
}

const (
	transportSMTP = "smtp"
	transportLog  = "log"
)

// DefaultConfig returns a Config with defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: "5000",
			Mode: "debug",
			AllowedOrigins: []string{
				"http://localhost:5173",
				"https://portfolio-nine-omega-rm6waj0uyt.vercel.app",
			},
		},
		Mail: MailConfig{
			Transport: transportSMTP,
			Host:      "smtp.gmail.com",
			Port:      "587",
			FromName:  "Portfolio Contact",
		},
		Log: LogConfig{
			Mode: "development",
		},
		Client: ClientConfig{
			RelayURL: "http://localhost:5000/api/contact",
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults and then
// applies environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		case len(data) > 0:
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			// Comment-only files decode to EOF.
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		cfg.Server.Mode = mode
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}
	if user := os.Getenv("EMAIL_USER"); user != "" {
		cfg.Mail.User = user
	}
	if pass := os.Getenv("EMAIL_PASS"); pass != "" {
		cfg.Mail.Password = pass
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Mail.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		cfg.Mail.Port = port
	}
	if transport := os.Getenv("MAIL_TRANSPORT"); transport != "" {
		cfg.Mail.Transport = strings.ToLower(transport)
	}
	if mode := os.Getenv("LOG_MODE"); mode != "" {
		cfg.Log.Mode = mode
	}
	if salt := os.Getenv("LOG_HASH_SALT"); salt != "" {
		cfg.Log.HashSalt = salt
	}
	if url := os.Getenv("RELAY_URL"); url != "" {
		cfg.Client.RelayURL = url
	}
}

// Validate checks the settings that would otherwise fail late. Missing mail
// credentials are not an error here: the startup check reports them and
// each dispatch fails on its own.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is empty"))
	}
	if len(c.Server.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("server.allowed_origins is empty"))
	}
	switch c.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		errs = append(errs, fmt.Errorf("server.mode %q is not one of debug, release, test", c.Server.Mode))
	}
	switch c.Mail.Transport {
	case transportSMTP:
		if strings.TrimSpace(c.Mail.Host) == "" {
			errs = append(errs, errors.New("mail.host is empty"))
		}
		if _, err := strconv.Atoi(c.Mail.Port); err != nil {
			errs = append(errs, fmt.Errorf("mail.port %q is not a number", c.Mail.Port))
		}
	case transportLog:
	default:
		errs = append(errs, fmt.Errorf("mail.transport %q is not one of smtp, log", c.Mail.Transport))
	}
	if strings.TrimSpace(c.Client.RelayURL) == "" {
		errs = append(errs, errors.New("client.relay_url is empty"))
	}
	if c.Client.Timeout < 0 {
		errs = append(errs, errors.New("client.timeout is negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
