package config

// ExecutorConfig defines where one protocol's execution engine lives and
// how long a single call may take.
type ExecutorConfig struct {
	Endpoint  string `json:"endpoint"`            // Engine URL, e.g. "http://localhost:9101/execute"
	TimeoutMS int    `json:"timeout_ms,omitempty"` // HTTP client timeout
}

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	GlobalLimit        int64            `json:"global_limit,omitempty"`
	ProtocolLimits     map[string]int64 `json:"protocol_limits,omitempty"`
	TickIntervalMS     int              `json:"tick_interval_ms,omitempty"`
	ExecTimeoutMS      int              `json:"exec_timeout_ms,omitempty"`
	QueueWaitTimeoutMS int              `json:"queue_wait_timeout_ms,omitempty"` // 0 disables
	DefaultMaxAttempts int              `json:"default_max_attempts,omitempty"`
	HistoryLimit       int              `json:"history_limit,omitempty"`
}

// RetryConfig tunes backoff between execution attempts.
type RetryConfig struct {
	BaseDelayMS   int     `json:"base_delay_ms,omitempty"`
	MaxIntervalMS int     `json:"max_interval_ms,omitempty"`
	Jitter        float64 `json:"jitter,omitempty"`
}

// GateConfig wires the external condition signal that withholds
// dispatch of gate-sensitive tasks.
type GateConfig struct {
	SignalURL      string  `json:"signal_url,omitempty"` // GET endpoint returning a bare number
	Ceiling        float64 `json:"ceiling,omitempty"`    // Gate open while signal <= ceiling
	PollIntervalMS int     `json:"poll_interval_ms,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	ListenAddr string                    `json:"listen_addr,omitempty"`
	DBPath     string                    `json:"db_path,omitempty"` // Empty disables persistence
	Scheduler  SchedulerConfig           `json:"scheduler"`
	Retry      RetryConfig               `json:"retry"`
	Gate       *GateConfig               `json:"gate,omitempty"`
	Executors  map[string]ExecutorConfig `json:"executors"` // protocol -> engine
}
