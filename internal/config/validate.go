package config

import (
	"fmt"
	"slices"
	"time"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// knownSlots are the slot names the dialogue engine understands.
var knownSlots = []string{
	"callerIdentity", "intent", "doctor", "window",
	"relation", "reason", "relatedAppointmentId",
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validStyles := []string{"pretty", "json"}
	if cfg.Logging.Style != "" && !slices.Contains(validStyles, cfg.Logging.Style) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.style",
			Message: fmt.Sprintf("must be one of %v, got %q", validStyles, cfg.Logging.Style),
		})
	}

	validNLU := []string{"gemini", "mock"}
	if cfg.NLU.Provider != "" && !slices.Contains(validNLU, cfg.NLU.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "nlu.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validNLU, cfg.NLU.Provider),
		})
	}
	if cfg.NLU.Provider == "gemini" && cfg.NLU.APIKey == "" {
		issues = append(issues, ValidationIssue{
			Path:    "nlu.apiKey",
			Message: "required for the gemini provider (or set GEMINI_API_KEY)",
		})
	}

	validCalendar := []string{"google", "memory"}
	if cfg.Calendar.Provider != "" && !slices.Contains(validCalendar, cfg.Calendar.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "calendar.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validCalendar, cfg.Calendar.Provider),
		})
	}
	if cfg.Calendar.Provider == "google" && cfg.Calendar.CredentialsFile == "" {
		issues = append(issues, ValidationIssue{
			Path:    "calendar.credentialsFile",
			Message: "required for the google provider",
		})
	}

	for intent, slots := range cfg.Dialog.RequiredSlots {
		validIntents := []string{"book", "reschedule", "cancel", "followup", "faq"}
		if !slices.Contains(validIntents, intent) {
			issues = append(issues, ValidationIssue{
				Path:    "dialog.requiredSlots." + intent,
				Message: fmt.Sprintf("unknown intent, must be one of %v", validIntents),
			})
		}
		for _, s := range slots {
			if !slices.Contains(knownSlots, s) {
				issues = append(issues, ValidationIssue{
					Path:    "dialog.requiredSlots." + intent,
					Message: fmt.Sprintf("unknown slot %q, must be one of %v", s, knownSlots),
				})
			}
		}
	}

	for i, off := range cfg.Reminder.Offsets {
		if _, err := time.ParseDuration(off); err != nil {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("reminder.offsets[%d]", i),
				Message: fmt.Sprintf("invalid duration %q", off),
			})
		}
	}

	if cfg.Mail != nil {
		if cfg.Mail.Host == "" {
			issues = append(issues, ValidationIssue{
				Path:    "mail.host",
				Message: "host is required",
			})
		}
		if cfg.Mail.Username == "" {
			issues = append(issues, ValidationIssue{
				Path:    "mail.username",
				Message: "username is required",
			})
		}
	}

	if cfg.Alert.IRC != nil {
		irc := cfg.Alert.IRC
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{
				Path:    "alert.irc.server",
				Message: "server is required",
			})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{
				Path:    "alert.irc.nick",
				Message: "nick is required",
			})
		}
		if irc.Channel == "" {
			issues = append(issues, ValidationIssue{
				Path:    "alert.irc.channel",
				Message: "channel is required",
			})
		}
	}

	return issues
}

// ReminderOffsets parses the configured reminder offsets into durations.
// Invalid entries are skipped; Validate reports them separately.
func (c ReminderConfig) ReminderOffsets() []time.Duration {
	out := make([]time.Duration, 0, len(c.Offsets))
	for _, s := range c.Offsets {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			out = append(out, d)
		}
	}
	return out
}
