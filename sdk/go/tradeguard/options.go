package tradeguard

import "go.uber.org/zap"

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	server     string
	configPath string
	log        *zap.Logger
}

// WithServer sends every call to a running tradeguard server.
func WithServer(addr string) Option {
	return func(c *clientConfig) { c.server = addr }
}

// WithConfig sets the risk config YAML used by the in-process manager.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithLogger sets the logger for the in-process manager and for
// rollback failures.
func WithLogger(log *zap.Logger) Option {
	return func(c *clientConfig) { c.log = log }
}
