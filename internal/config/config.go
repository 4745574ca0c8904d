// Package config loads the service configuration: environment variables for
// runtime settings and a JSON document for the form definition (resources,
// static profile values, submission steps). The form definition is validated
// here, at load time, so the pipeline never discovers a broken mapping at
// fire time.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/example/courtsched/internal/pipeline"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	BaseURL    string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"file"`
	StoragePath   string `envconfig:"STORAGE_PATH" default:"data/bookings.json"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	FormConfigPath string `envconfig:"FORM_CONFIG" default:"form.json"`
	Timezone       string `envconfig:"TIMEZONE" default:"Asia/Bangkok"`

	DefaultSubmitTime string `envconfig:"DEFAULT_SUBMIT_TIME" default:"13:00"`
	Participants      int    `envconfig:"PARTICIPANTS" default:"3"`

	MaxAttempts        int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryDelay         time.Duration `envconfig:"RETRY_DELAY" default:"2s"`
	StepTimeout        time.Duration `envconfig:"STEP_TIMEOUT" default:"10s"`
	MissedWindowPolicy string        `envconfig:"MISSED_WINDOW_POLICY" default:"attempt"`

	OTPTTL           time.Duration `envconfig:"OTP_TTL" default:"5m"`
	OTPIssueInterval time.Duration `envconfig:"OTP_ISSUE_INTERVAL" default:"1m"`

	// bcrypt hash of the master cancellation secret (courtsched keys --hash-secret)
	CancelSecretHash string `envconfig:"CANCEL_SECRET_HASH"`

	SessionHashKeyB64  string `envconfig:"SESSION_HASH_KEY"`
	SessionBlockKeyB64 string `envconfig:"SESSION_BLOCK_KEY"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	TelegramBotToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    string `envconfig:"TELEGRAM_CHAT_ID"`
	ResendAPIKey      string `envconfig:"RESEND_API_KEY"`
	ResendFrom        string `envconfig:"RESEND_FROM_EMAIL"`
	ConfirmationTo    string `envconfig:"CONFIRMATION_EMAIL"`

	Form            Form           `ignored:"true"`
	Location        *time.Location `ignored:"true"`
	SessionHashKey  []byte         `ignored:"true"`
	SessionBlockKey []byte         `ignored:"true"`
}

type Resource struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
}

// Form is the on-disk form definition.
type Form struct {
	Resources []Resource        `json:"resources"`
	Profile   map[string]string `json:"profile"`
	Steps     []pipeline.Step   `json:"steps"`
}

const (
	PolicyAttempt = "attempt"
	PolicyFail    = "fail"
)

func Load() (Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, err
	}

	if c.StorageDriver != "file" && c.StorageDriver != "postgres" {
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be file or postgres, got %q", c.StorageDriver)
	}
	if c.StorageDriver == "postgres" && c.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required with STORAGE_DRIVER=postgres")
	}
	if c.MissedWindowPolicy != PolicyAttempt && c.MissedWindowPolicy != PolicyFail {
		return Config{}, fmt.Errorf("MISSED_WINDOW_POLICY must be %s or %s", PolicyAttempt, PolicyFail)
	}
	if c.Participants < 1 {
		return Config{}, fmt.Errorf("PARTICIPANTS must be >= 1")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Location = loc

	if c.SessionHashKeyB64 != "" {
		if c.SessionHashKey, err = decodeB64(c.SessionHashKeyB64); err != nil {
			return Config{}, fmt.Errorf("SESSION_HASH_KEY: %w", err)
		}
	}
	if c.SessionBlockKeyB64 != "" {
		if c.SessionBlockKey, err = decodeB64(c.SessionBlockKeyB64); err != nil {
			return Config{}, fmt.Errorf("SESSION_BLOCK_KEY: %w", err)
		}
	}

	form, err := LoadForm(c.FormConfigPath, c.Participants)
	if err != nil {
		return Config{}, err
	}
	c.Form = form

	return c, nil
}

// LoadForm reads and validates a form definition file.
func LoadForm(path string, participants int) (Form, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Form{}, fmt.Errorf("form config: %w", err)
	}
	var f Form
	if err := json.Unmarshal(b, &f); err != nil {
		return Form{}, fmt.Errorf("form config %s: %w", path, err)
	}
	if err := f.validate(participants); err != nil {
		return Form{}, fmt.Errorf("form config %s: %w", path, err)
	}
	return f, nil
}

func (f Form) validate(participants int) error {
	if len(f.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}
	seen := make(map[string]bool, len(f.Resources))
	for _, r := range f.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource with empty name")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate resource %q", r.Name)
		}
		seen[r.Name] = true
	}
	return pipeline.ValidateSteps(f.Steps, participants, f.Profile)
}

// HasResource reports whether name is a member of the configured resource set.
func (f Form) HasResource(name string) bool {
	for _, r := range f.Resources {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Alias resolves the display alias for a resource name, falling back to the
// name itself.
func (f Form) Alias(name string) string {
	for _, r := range f.Resources {
		if r.Name == name && r.Alias != "" {
			return r.Alias
		}
	}
	return name
}

// ValidateServer checks the settings the server command additionally needs.
func (c Config) ValidateServer() error {
	if c.CancelSecretHash == "" {
		return fmt.Errorf("CANCEL_SECRET_HASH is required (generate with: courtsched keys --hash-secret)")
	}
	if len(c.SessionHashKey) == 0 || len(c.SessionBlockKey) == 0 {
		return fmt.Errorf("SESSION_HASH_KEY and SESSION_BLOCK_KEY are required (generate with: courtsched keys)")
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
