package config

import (
	"time"

	"httpgate/types"

	"go.uber.org/zap/zapcore"
)

type Config interface {
	Domain() string

	HTTPPort() string
	HTTPSPort() string

	TLSEnabled() bool
	TLSStoragePath() string

	ACMEEmail() string
	CFAPIToken() string
	ACMEStaging() bool

	BufferSize() int
	MaxHeaderBytes() int
	KeepAliveMaxRequests() int
	IdleTimeout() time.Duration

	AdminEnabled() bool
	AdminPort() string

	AccessLogEnabled() bool
	AccessLogQueue() int

	LogFormat() types.LogFormat
	LogLevel() zapcore.Level
}

func MustLoad() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg, err := parse()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *config) Domain() string             { return c.domain }
func (c *config) HTTPPort() string           { return c.httpPort }
func (c *config) HTTPSPort() string          { return c.httpsPort }
func (c *config) TLSEnabled() bool           { return c.tlsEnabled }
func (c *config) TLSStoragePath() string     { return c.tlsStoragePath }
func (c *config) ACMEEmail() string          { return c.acmeEmail }
func (c *config) CFAPIToken() string         { return c.cfAPIToken }
func (c *config) ACMEStaging() bool          { return c.acmeStaging }
func (c *config) BufferSize() int            { return c.bufferSize }
func (c *config) MaxHeaderBytes() int        { return c.maxHeaderBytes }
func (c *config) KeepAliveMaxRequests() int  { return c.keepAliveMaxRequests }
func (c *config) IdleTimeout() time.Duration { return c.idleTimeout }
func (c *config) AdminEnabled() bool         { return c.adminEnabled }
func (c *config) AdminPort() string          { return c.adminPort }
func (c *config) AccessLogEnabled() bool     { return c.accessLogEnabled }
func (c *config) AccessLogQueue() int        { return c.accessLogQueue }
func (c *config) LogFormat() types.LogFormat { return c.logFormat }
func (c *config) LogLevel() zapcore.Level    { return c.logLevel }
