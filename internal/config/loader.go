package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable
// values. Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.NLU.APIKey = expandEnvVars(cfg.NLU.APIKey)
	cfg.Messaging.AuthID = expandEnvVars(cfg.Messaging.AuthID)
	cfg.Messaging.AuthToken = expandEnvVars(cfg.Messaging.AuthToken)
	if cfg.Mail != nil {
		cfg.Mail.Password = expandEnvVars(cfg.Mail.Password)
	}
}

// Load reads the config file, applies environment overrides, and
// returns a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DefaultRequiredSlots is the per-intent required-slot table used when
// the config file does not supply one.
func DefaultRequiredSlots() map[string][]string {
	return map[string][]string{
		"book":       {"doctor", "window", "reason"},
		"reschedule": {"relatedAppointmentId", "window"},
		"cancel":     {"relatedAppointmentId"},
		"followup":   {"relatedAppointmentId"},
	}
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "127.0.0.1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Style == "" {
		cfg.Logging.Style = "pretty"
	}
	if cfg.NLU.Provider == "" {
		cfg.NLU.Provider = "gemini"
	}
	if cfg.NLU.Model == "" {
		cfg.NLU.Model = "gemini-1.5-pro"
	}
	if cfg.Calendar.Provider == "" {
		cfg.Calendar.Provider = "google"
	}
	if cfg.Messaging.Provider == "" {
		cfg.Messaging.Provider = "plivo"
	}
	if cfg.Mail != nil {
		if cfg.Mail.Port == 0 {
			cfg.Mail.Port = 993
		}
		if cfg.Mail.Mailbox == "" {
			cfg.Mail.Mailbox = "INBOX"
		}
		if cfg.Mail.PollSeconds == 0 {
			cfg.Mail.PollSeconds = 60
		}
	}
	if len(cfg.Dialog.RequiredSlots) == 0 {
		cfg.Dialog.RequiredSlots = DefaultRequiredSlots()
	}
	if cfg.Dialog.MaxUnknownTurns == 0 {
		cfg.Dialog.MaxUnknownTurns = 3
	}
	if cfg.Dialog.MaxDisambigAttempts == 0 {
		cfg.Dialog.MaxDisambigAttempts = 3
	}
	if cfg.Dialog.DefaultDurationMinutes == 0 {
		cfg.Dialog.DefaultDurationMinutes = 30
	}
	if cfg.Dialog.MaxCandidateSlots == 0 {
		cfg.Dialog.MaxCandidateSlots = 3
	}
	if cfg.Dialog.SlotGranularityMinutes == 0 {
		cfg.Dialog.SlotGranularityMinutes = 15
	}
	if cfg.Retry.Availability == 0 {
		cfg.Retry.Availability = 1
	}
	if cfg.Retry.Commit == 0 {
		cfg.Retry.Commit = 1
	}
	if cfg.Retry.CollaboratorTimeoutSeconds == 0 {
		cfg.Retry.CollaboratorTimeoutSeconds = 10
	}
	if cfg.Session.IdleMinutes == 0 {
		cfg.Session.IdleMinutes = 5
	}
	if cfg.Session.TurnSilenceSeconds == 0 {
		cfg.Session.TurnSilenceSeconds = 10
	}
	if len(cfg.Reminder.Offsets) == 0 {
		cfg.Reminder.Offsets = []string{"24h", "2h"}
	}
	if cfg.Reminder.ScanSeconds == 0 {
		cfg.Reminder.ScanSeconds = 30
	}
	if cfg.Reminder.Channel == "" {
		cfg.Reminder.Channel = "whatsapp"
	}
	if cfg.Alert.IRC != nil && cfg.Alert.IRC.Port == 0 {
		cfg.Alert.IRC.Port = 6667
	}
}

// applyEnvOverrides reads FRONTDESK_* environment variables and
// overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRONTDESK_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("FRONTDESK_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("FRONTDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FRONTDESK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.NLU.APIKey == "" {
		cfg.NLU.APIKey = v
	}
	if v := os.Getenv("PLIVO_AUTH_ID"); v != "" && cfg.Messaging.AuthID == "" {
		cfg.Messaging.AuthID = v
	}
	if v := os.Getenv("PLIVO_AUTH_TOKEN"); v != "" && cfg.Messaging.AuthToken == "" {
		cfg.Messaging.AuthToken = v
	}
	if v := os.Getenv("PLIVO_PHONE_NUMBER"); v != "" && cfg.Messaging.FromNumber == "" {
		cfg.Messaging.FromNumber = v
	}
}
