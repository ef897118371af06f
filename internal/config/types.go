package config

// Config is the root configuration for mailbot.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder. All durations are Go duration strings
// (e.g. "50ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
}

type TelegramConfig struct {
	// Token is the bot token used for the operator-facing conversation.
	Token string `json:"token"`
	// SenderToken is the token used to open outbound mailing sessions.
	// If empty, Token is used for both.
	SenderToken string `json:"sender_token,omitempty"`
	// PollTimeout is the long-poll timeout (Go duration string).
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the conversation store backend.
//
// Driver values:
//   - "file" (default): single JSON snapshot, atomically replaced per write
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path"`
	// BusyTimeout applies to the sqlite driver only (Go duration string).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatchConfig tunes the outbound mailing fan-out.
type DispatchConfig struct {
	// Pace is the minimum delay between consecutive recipient sends.
	// Defaults to 50ms when omitted.
	Pace string `json:"pace,omitempty"`
}
