package config

import "time"

// Config holds client and development-server configuration values.
type Config struct {
	LogLevel string       `mapstructure:"log_level" yaml:"log_level"`
	Client   ClientConfig `mapstructure:"client" yaml:"client"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
}

// ClientConfig configures the chat session.
type ClientConfig struct {
	// APIBase is the REST root, e.g. http://localhost:8080.
	APIBase string `mapstructure:"api_base" yaml:"api_base"`
	// RealtimeURL is the websocket endpoint template; {eventId} is substituted.
	RealtimeURL    string          `mapstructure:"realtime_url" yaml:"realtime_url"`
	Token          string          `mapstructure:"token" yaml:"token"`
	ConnectTimeout time.Duration   `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	HTTPTimeout    time.Duration   `mapstructure:"http_timeout" yaml:"http_timeout"`
	DedupWindow    time.Duration   `mapstructure:"dedup_window" yaml:"dedup_window"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	// LogFile receives logs while the terminal UI owns stdout.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// ReconnectConfig bounds the reconnect backoff.
type ReconnectConfig struct {
	Initial time.Duration `mapstructure:"initial" yaml:"initial"`
	Max     time.Duration `mapstructure:"max" yaml:"max"`
	Retries int           `mapstructure:"retries" yaml:"retries"`
}

// ServerConfig configures the development backend.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	HistoryPageSize   int           `mapstructure:"history_page_size" yaml:"history_page_size"`
	// MessagesPerMinute caps inbound messages per connection; zero disables the cap.
	MessagesPerMinute int           `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`
	SeedDemo          bool          `mapstructure:"seed_demo" yaml:"seed_demo"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			APIBase:        "http://localhost:8080",
			RealtimeURL:    "ws://localhost:8080/ws/chat/{eventId}/",
			ConnectTimeout: 10 * time.Second,
			HTTPTimeout:    10 * time.Second,
			DedupWindow:    2 * time.Minute,
			Reconnect: ReconnectConfig{
				Initial: 500 * time.Millisecond,
				Max:     10 * time.Second,
				Retries: 5,
			},
			LogFile: "eventchat.log",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			DatabasePath:      "eventchat.db",
			JWTSecret:         "change-me",
			JWTIssuer:         "eventchat",
			HistoryPageSize:   50,
			MessagesPerMinute: 60,
			SeedDemo:          true,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	if other.Client.APIBase != "" {
		c.Client.APIBase = other.Client.APIBase
	}
	if other.Client.RealtimeURL != "" {
		c.Client.RealtimeURL = other.Client.RealtimeURL
	}
	if other.Client.Token != "" {
		c.Client.Token = other.Client.Token
	}
	if other.Client.ConnectTimeout != 0 {
		c.Client.ConnectTimeout = other.Client.ConnectTimeout
	}
	if other.Client.HTTPTimeout != 0 {
		c.Client.HTTPTimeout = other.Client.HTTPTimeout
	}
	if other.Client.DedupWindow != 0 {
		c.Client.DedupWindow = other.Client.DedupWindow
	}
	if other.Client.Reconnect.Initial != 0 {
		c.Client.Reconnect.Initial = other.Client.Reconnect.Initial
	}
	if other.Client.Reconnect.Max != 0 {
		c.Client.Reconnect.Max = other.Client.Reconnect.Max
	}
	if other.Client.Reconnect.Retries != 0 {
		c.Client.Reconnect.Retries = other.Client.Reconnect.Retries
	}
	if other.Client.LogFile != "" {
		c.Client.LogFile = other.Client.LogFile
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Server.DatabasePath != "" {
		c.Server.DatabasePath = other.Server.DatabasePath
	}
	if other.Server.JWTSecret != "" {
		c.Server.JWTSecret = other.Server.JWTSecret
	}
	if other.Server.JWTIssuer != "" {
		c.Server.JWTIssuer = other.Server.JWTIssuer
	}
	if other.Server.HistoryPageSize != 0 {
		c.Server.HistoryPageSize = other.Server.HistoryPageSize
	}
	if other.Server.MessagesPerMinute != 0 {
		c.Server.MessagesPerMinute = other.Server.MessagesPerMinute
	}
}
