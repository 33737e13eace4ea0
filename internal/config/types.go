package config

// Config is the root configuration for the frontdesk service.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Database  DatabaseConfig  `yaml:"database,omitempty"`
	NLU       NLUConfig       `yaml:"nlu,omitempty"`
	Calendar  CalendarConfig  `yaml:"calendar,omitempty"`
	Messaging MessagingConfig `yaml:"messaging,omitempty"`
	Mail      *MailConfig     `yaml:"mail,omitempty"`
	Alert     AlertConfig     `yaml:"alert,omitempty"`
	Dialog    DialogConfig    `yaml:"dialog,omitempty"`
	Retry     RetryConfig     `yaml:"retry,omitempty"`
	Session   SessionConfig   `yaml:"session,omitempty"`
	Reminder  ReminderConfig  `yaml:"reminder,omitempty"`
	Knowledge KnowledgeConfig `yaml:"knowledge,omitempty"`
}

// GatewayConfig controls the webhook HTTP/WebSocket server.
type GatewayConfig struct {
	Port int    `yaml:"port,omitempty"`
	Bind string `yaml:"bind,omitempty"` // listen address, default 127.0.0.1
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Style string `yaml:"style,omitempty"` // "pretty" | "json"
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // empty → <base>/data/frontdesk.db
}

// NLUConfig configures the intent classification collaborator.
type NLUConfig struct {
	Provider string `yaml:"provider,omitempty"` // "gemini" | "mock"
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// CalendarConfig configures the calendar collaborator.
type CalendarConfig struct {
	Provider        string `yaml:"provider,omitempty"` // "google" | "memory"
	CredentialsFile string `yaml:"credentialsFile,omitempty"`
	TokenFile       string `yaml:"tokenFile,omitempty"`
}

// MessagingConfig configures outbound reminder delivery.
type MessagingConfig struct {
	Provider   string `yaml:"provider,omitempty"` // "plivo" | "mock"
	AuthID     string `yaml:"authId,omitempty"`
	AuthToken  string `yaml:"authToken,omitempty"`
	FromNumber string `yaml:"fromNumber,omitempty"`
}

// MailConfig configures the IMAP inbox polled for reminder replies.
type MailConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password,omitempty"`
	Mailbox     string `yaml:"mailbox,omitempty"`
	PollSeconds int    `yaml:"pollSeconds,omitempty"`
}

// AlertConfig configures the operations alert channel.
type AlertConfig struct {
	IRC *IRCAlertConfig `yaml:"irc,omitempty"`
}

// IRCAlertConfig defines the staff IRC channel receiving escalations.
type IRCAlertConfig struct {
	Server  string `yaml:"server"`
	Port    int    `yaml:"port,omitempty"`
	Nick    string `yaml:"nick"`
	Channel string `yaml:"channel"`
	UseTLS  bool   `yaml:"useTLS,omitempty"`
}

// DialogConfig holds the required-slot table and conversation limits.
// Required slots are configuration, not hardcoded logic.
type DialogConfig struct {
	RequiredSlots            map[string][]string `yaml:"requiredSlots,omitempty"` // intent → slot names
	MaxUnknownTurns          int                 `yaml:"maxUnknownTurns,omitempty"`
	MaxDisambigAttempts      int                 `yaml:"maxDisambiguationAttempts,omitempty"`
	DefaultDurationMinutes   int                 `yaml:"defaultDurationMinutes,omitempty"`
	MaxCandidateSlots        int                 `yaml:"maxCandidateSlots,omitempty"`
	SlotGranularityMinutes   int                 `yaml:"slotGranularityMinutes,omitempty"`
}

// RetryConfig bounds collaborator retries and timeouts.
type RetryConfig struct {
	Availability               int `yaml:"availability,omitempty"` // retries before escalating
	Commit                     int `yaml:"commit,omitempty"`
	CollaboratorTimeoutSeconds int `yaml:"collaboratorTimeoutSeconds,omitempty"`
}

// SessionConfig defines call session behavior.
type SessionConfig struct {
	IdleMinutes        int `yaml:"idleMinutes,omitempty"`
	TurnSilenceSeconds int `yaml:"turnSilenceSeconds,omitempty"`
}

// ReminderConfig defines reminder scheduling.
type ReminderConfig struct {
	Offsets     []string `yaml:"offsets,omitempty"` // durations before start, e.g. "24h", "2h"
	ScanSeconds int      `yaml:"scanSeconds,omitempty"`
	Channel     string   `yaml:"channel,omitempty"` // "whatsapp" | "sms" | "email"
}

// KnowledgeConfig locates the clinic knowledge base.
type KnowledgeConfig struct {
	Path string `yaml:"path,omitempty"` // empty → <base>/clinic_info.json
}

// ConfigError is a configuration load or parse failure.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }
