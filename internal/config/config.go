// Package config provides configuration types and loading for relaydeck.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Poller, Draft, Approval, Delivery, Audit, Channels.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Poller   PollerConfig   `json:"poller"`
	Draft    DraftConfig    `json:"draft"`
	Approval ApprovalConfig `json:"approval"`
	Delivery DeliveryConfig `json:"delivery"`
	Audit    AuditConfig    `json:"audit"`
	Channels ChannelsConfig `json:"channels"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir       string `json:"dataDir" envconfig:"DATA_DIR"`
	StorePath     string `json:"storePath" envconfig:"STORE_PATH"`
	WASessionPath string `json:"waSessionPath" envconfig:"WA_SESSION_PATH"`
	QRPath        string `json:"qrPath" envconfig:"QR_PATH"`
}

// ---------------------------------------------------------------------------
// Poller – message log ingestion
// ---------------------------------------------------------------------------

// PollerConfig controls the message log poll loop.
type PollerConfig struct {
	Interval  time.Duration `json:"interval" envconfig:"INTERVAL"`
	BatchSize int           `json:"batchSize" envconfig:"BATCH_SIZE"`
	QueueSize int           `json:"queueSize" envconfig:"QUEUE_SIZE"`
}

// ---------------------------------------------------------------------------
// Draft – AI backend
// ---------------------------------------------------------------------------

// DraftConfig configures the reply draft backend.
// Mode is "chat" (stateless, prompt + history window) or "session"
// (one backend thread per conversation).
type DraftConfig struct {
	Mode            string        `json:"mode" envconfig:"MODE"`
	APIKey          string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase         string        `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model           string        `json:"model" envconfig:"MODEL"`
	AssistantID     string        `json:"assistantId,omitempty" envconfig:"ASSISTANT_ID"`
	SystemPrompt    string        `json:"systemPrompt" envconfig:"SYSTEM_PROMPT"`
	HistoryWindow   int           `json:"historyWindow" envconfig:"HISTORY_WINDOW"`
	Timeout         time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	RunPollEvery    time.Duration `json:"runPollEvery" envconfig:"RUN_POLL_EVERY"`
	TranscribeAudio bool          `json:"transcribeAudio" envconfig:"TRANSCRIBE_AUDIO"`
}

// ---------------------------------------------------------------------------
// Approval – operator review
// ---------------------------------------------------------------------------

// ApprovalConfig controls the approval lifecycle.
type ApprovalConfig struct {
	TTL           time.Duration `json:"ttl" envconfig:"TTL"`
	SweepInterval time.Duration `json:"sweepInterval" envconfig:"SWEEP_INTERVAL"`
}

// ---------------------------------------------------------------------------
// Delivery – outbound sends
// ---------------------------------------------------------------------------

// DeliveryConfig controls the delivery worker.
type DeliveryConfig struct {
	Interval    time.Duration `json:"interval" envconfig:"INTERVAL"`
	MaxAttempts int           `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	SendTimeout time.Duration `json:"sendTimeout" envconfig:"SEND_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Audit – append-only trail
// ---------------------------------------------------------------------------

// AuditConfig configures the audit sinks. Empty Brokers disables the
// Kafka sink; the JSONL file and store table are always written.
type AuditConfig struct {
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic" envconfig:"TOPIC"`
	WriteTimeout time.Duration `json:"writeTimeout" envconfig:"WRITE_TIMEOUT"`
	FilePath     string        `json:"filePath" envconfig:"FILE_PATH"`
}

// ---------------------------------------------------------------------------
// Channels – transports and consoles
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Slack    SlackConfig    `json:"slack"`
}

// WhatsAppConfig configures the WhatsApp transport.
type WhatsAppConfig struct {
	Enabled bool `json:"enabled" envconfig:"WHATSAPP_ENABLED"`
	// Groups are skipped by default; the relay serves direct chats.
	AllowGroups bool `json:"allowGroups" envconfig:"WHATSAPP_ALLOW_GROUPS"`
}

// SlackConfig configures the operator console.
type SlackConfig struct {
	Enabled         bool   `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken        string `json:"botToken" envconfig:"SLACK_BOT_TOKEN"`
	AppToken        string `json:"appToken" envconfig:"SLACK_APP_TOKEN"`
	OperatorChannel string `json:"operatorChannel" envconfig:"SLACK_OPERATOR_CHANNEL"`
}

// DefaultConfig returns the configuration defaults applied before any
// file or environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir:       "~/.relaydeck",
			StorePath:     "~/.relaydeck/relaydeck.db",
			WASessionPath: "~/.relaydeck/wa-session.db",
			QRPath:        "~/.relaydeck/qr.png",
		},
		Poller: PollerConfig{
			Interval:  2 * time.Second,
			BatchSize: 200,
			QueueSize: 64,
		},
		Draft: DraftConfig{
			Mode:          "chat",
			APIBase:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			SystemPrompt:  "You are a helpful assistant answering on behalf of the account owner. Keep replies short, friendly and in the sender's language.",
			HistoryWindow: 10,
			Timeout:       60 * time.Second,
			RunPollEvery:  time.Second,
		},
		Approval: ApprovalConfig{
			TTL:           15 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Delivery: DeliveryConfig{
			Interval:    5 * time.Second,
			MaxAttempts: 5,
			SendTimeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			Topic:        "relaydeck.audit",
			WriteTimeout: 10 * time.Second,
			FilePath:     "~/.relaydeck/audit.jsonl",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{Enabled: true},
			Slack:    SlackConfig{},
		},
	}
}
