package dbosruntime

import "github.com/tendant/simple-image-forensics/internal/config"

const (
	DefaultQueueName   = "default"
	DefaultConcurrency = 4
)

// Config holds DBOS runtime settings.
type Config struct {
	// PostgreSQL connection string for DBOS system tables. Required.
	DatabaseURL string
	// AppName identifies this application in DBOS. Required.
	AppName string
	QueueName string
	// Concurrent workers per queue. Zero means client mode: enqueue only.
	Concurrency int
	// Overrides the binary hash used for version matching so several
	// binaries can share workflows.
	ApplicationVersion string
}

// FromConfig maps the process configuration onto a runtime Config.
func FromConfig(c config.DBOSConfig) Config {
	return Config{
		DatabaseURL:        c.DatabaseURL,
		AppName:            c.AppName,
		QueueName:          c.QueueName,
		Concurrency:        c.Concurrency,
		ApplicationVersion: c.ApplicationVersion,
	}
}

// WithDefaults fills in optional fields. Concurrency is left alone so
// client mode stays expressible.
func (c *Config) WithDefaults() {
	if c.QueueName == "" {
		c.QueueName = DefaultQueueName
	}
	if c.Concurrency < 0 {
		c.Concurrency = DefaultConcurrency
	}
}
