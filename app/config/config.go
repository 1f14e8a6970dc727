package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log    Log    `yaml:"log"`
	Server Server `yaml:"server"`
	Twilio Twilio `yaml:"twilio"`
	Groq   Groq   `yaml:"groq"`
	Intake Intake `yaml:"intake"`
	Ledger Ledger `yaml:"ledger"`
}

type Server struct {
	// Listen address of the HTTP server
	Addr string `yaml:"addr" example:"0.0.0.0:8000"`
}

type Twilio struct {
	// Twilio account SID
	AccountSID string `yaml:"account_sid" example:"AC1234567890abcdef1234567890abcdef" validate:"required"`
	// Twilio auth token, used for request signature validation
	AuthToken string `yaml:"auth_token" example:"1234567890abcdef1234567890abcdef" validate:"required"`
	// Phone number answering emergency calls
	PhoneNumber string `yaml:"phone_number" example:"+15551230911"`
	// Skip request signature validation (local testing only)
	SkipValidation bool `yaml:"skip_validation" example:"false"`
}

type Groq struct {
	// OpenAI-compatible base url
	BaseURL string `yaml:"base_url" example:"https://api.groq.com/openai/v1" validate:"required"`
	// API token
	Token string `yaml:"token" example:"gsk_abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// Model used for call analysis
	Model string `yaml:"model" example:"meta-llama/llama-4-scout-17b-16e-instruct" validate:"required"`
}

type Intake struct {
	// Upper bound on a single classification round trip
	ClassifyTimeout time.Duration `yaml:"classify_timeout" example:"30s"`
}

type Ledger struct {
	// Directory holding the per-category case documents
	Path string `yaml:"path" example:"data/ledger"`
}

type Log struct {
	// Minimum console log level
	Level string `yaml:"level" example:"debug" validate:"omitempty,oneof=debug info warn error"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.Server.Addr == "" {
		result.Server.Addr = "0.0.0.0:8000"
	}
	if result.Intake.ClassifyTimeout == 0 {
		result.Intake.ClassifyTimeout = 30 * time.Second
	}
	if result.Ledger.Path == "" {
		result.Ledger.Path = "data/ledger"
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
