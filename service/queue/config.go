package queue

import "time"

type Config struct {
	HighWorkers      int           `mapstructure:"highWorkers" env:"HIGH_WORKERS"`
	NormalWorkers    int           `mapstructure:"normalWorkers" env:"NORMAL_WORKERS"`
	PollInterval     time.Duration `mapstructure:"pollInterval" env:"POLL_INTERVAL"`
	MaxRetries       int           `mapstructure:"maxRetries" env:"MAX_RETRIES"`
	RetryBase        time.Duration `mapstructure:"retryBase" env:"RETRY_BASE"`
	ProcessTimeout   time.Duration `mapstructure:"processTimeout" env:"PROCESS_TIMEOUT"`
	DeadLetterSweep  time.Duration `mapstructure:"deadLetterSweep" env:"DEAD_LETTER_SWEEP"`
	DeadLetterBatch  int64         `mapstructure:"deadLetterBatch" env:"DEAD_LETTER_BATCH"`
	PushPreviewRunes int           `mapstructure:"pushPreviewRunes" env:"PUSH_PREVIEW_RUNES"`
}

func DefaultConfig() Config {
	return Config{
		HighWorkers:     1,
		NormalWorkers:   2,
		PollInterval:    50 * time.Millisecond,
		MaxRetries:      3,
		RetryBase:       time.Second,
		ProcessTimeout:  10 * time.Second,
		DeadLetterSweep: 30 * time.Second,
		DeadLetterBatch: 100,
	}
}

func (c *Config) norm() {
	d := DefaultConfig()
	if c.HighWorkers <= 0 {
		c.HighWorkers = d.HighWorkers
	}
	if c.NormalWorkers <= 0 {
		c.NormalWorkers = d.NormalWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	if c.DeadLetterSweep <= 0 {
		c.DeadLetterSweep = d.DeadLetterSweep
	}
	if c.DeadLetterBatch <= 0 {
		c.DeadLetterBatch = d.DeadLetterBatch
	}
}

// Backoff 第 rc 次失败后的等待：base * 2^(rc-1)
func (c Config) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return c.RetryBase << (retryCount - 1)
}
