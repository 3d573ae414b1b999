// Package config loads and validates the bot configuration from the
// process environment. A .env file, when present, is loaded by the
// entrypoint before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Bot modes.
const (
	ModePublic  = "public"
	ModePrivate = "private"
)

// Config holds every tunable the bot reads at startup.
type Config struct {
	SessionID    string // bootstrap blob, "label~base64(json)"
	Prefix       string
	BotName      string
	OwnerNumber  string   // digits-only local part
	AdminNumbers []string // digits-only local parts
	Mode         string   // public | private

	AutoBio        bool
	AutoRead       bool
	AutoReact      bool
	AutoStatusSeen bool
	Welcome        bool
	Antilink       bool
	RejectCall     bool

	Port     int
	Timezone string

	MongoURI     string
	DatabaseName string

	// Directories and endpoints.
	SessionDir string
	PluginDir  string
	GatewayURL string // websocket gateway the transport client dials

	WelcomeImageURL string
	WelcomeText     string
	GoodbyeText     string
}

// Load reads the environment into a Config, applying defaults.
// It does not validate; call Validate afterwards.
func Load() *Config {
	cfg := &Config{
		SessionID:       os.Getenv("SESSION_ID"),
		Prefix:          getEnv("PREFIX", "."),
		BotName:         getEnv("BOT_NAME", "Hermes"),
		OwnerNumber:     digitsOnly(os.Getenv("OWNER_NUMBER")),
		AdminNumbers:    splitNumbers(os.Getenv("ADMIN_NUMBERS")),
		Mode:            strings.ToLower(getEnv("MODE", ModePublic)),
		AutoBio:         getBool("AUTO_BIO", false),
		AutoRead:        getBool("AUTO_READ", false),
		AutoReact:       getBool("AUTO_REACT", false),
		AutoStatusSeen:  getBool("AUTO_STATUS_SEEN", true),
		Welcome:         getBool("WELCOME", false),
		Antilink:        getBool("ANTILINK", false),
		RejectCall:      getBool("REJECT_CALL", false),
		Port:            getInt("PORT", 3000),
		Timezone:        getEnv("TIMEZONE", "Africa/Lagos"),
		MongoURI:        os.Getenv("MONGODB_URI"),
		DatabaseName:    getEnv("DATABASE_NAME", "hermes"),
		SessionDir:      getEnv("SESSION_DIR", "session"),
		PluginDir:       getEnv("PLUGIN_DIR", "plugins"),
		GatewayURL:      getEnv("GATEWAY_URL", "ws://127.0.0.1:8799/ws"),
		WelcomeImageURL: getEnv("WELCOME_IMAGE_URL", "https://i.ibb.co/3Fh9V6p/avatar.png"),
		WelcomeText:     getEnv("WELCOME_TEXT", "👋 Welcome {name} to {group}! You are member #{members}. ({date} {time})"),
		GoodbyeText:     getEnv("GOODBYE_TEXT", "👋 {name} left {group}. {members} members remain."),
	}
	return cfg
}

// Validate enforces the startup rules. Any error returned here is fatal.
func (c *Config) Validate() error {
	if c.OwnerNumber == "" {
		return fmt.Errorf("OWNER_NUMBER is required (digits only, e.g. 2348012345678)")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Mode != ModePublic && c.Mode != ModePrivate {
		return fmt.Errorf("MODE must be %q or %q, got %q", ModePublic, ModePrivate, c.Mode)
	}
	if c.Prefix == "" {
		return fmt.Errorf("PREFIX must not be empty")
	}
	return nil
}

// IsAdminNumber reports whether the digits-only local part is in the
// configured admin list.
func (c *Config) IsAdminNumber(local string) bool {
	for _, n := range c.AdminNumbers {
		if n == local {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// splitNumbers parses a comma-separated admin list, trimming whitespace
// and coercing each entry to a digits-only local part.
func splitNumbers(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		n := digitsOnly(strings.TrimSpace(part))
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
