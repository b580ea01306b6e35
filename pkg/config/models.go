package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Session   SessionConfig
	Limits    LimitsConfig
	Sink      SinkConfig
}

type ServerConfig struct {
	Address           string
	LogLevel          string                `mapstructure:"logLevel"`
	FacilitatorSecret string                `mapstructure:"facilitatorSecret"`
	ConnectionLimit   ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type ConnectionLimitConfig struct {
	MaxPerIP int `mapstructure:"maxPerIP"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type SessionConfig struct {
	// HistoryCap bounds the text and question histories; oldest out first.
	HistoryCap int `mapstructure:"historyCap"`
	// WelcomeHistoryCap bounds the history arrays carried on the welcome
	// snapshot, independently of what the store keeps.
	WelcomeHistoryCap int `mapstructure:"welcomeHistoryCap"`
}

type LimitsConfig struct {
	ColorWindow    time.Duration `mapstructure:"colorWindow"`
	TextWindow     time.Duration `mapstructure:"textWindow"`
	QuestionWindow time.Duration `mapstructure:"questionWindow"`
}

type SinkConfig struct {
	// BulbAddress is the WiZ bulb's UDP host:port; empty disables the sink.
	BulbAddress string `mapstructure:"bulbAddress"`
}
