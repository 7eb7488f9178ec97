package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8090",
		DBPath:     "",
		Scheduler: SchedulerConfig{
			GlobalLimit:        4,
			TickIntervalMS:     250,
			ExecTimeoutMS:      300_000,
			DefaultMaxAttempts: 3,
			HistoryLimit:       10000,
		},
		Retry: RetryConfig{
			BaseDelayMS:   2000,
			MaxIntervalMS: 120_000,
			Jitter:        0.2,
		},
		Executors: map[string]ExecutorConfig{},
	}
}
