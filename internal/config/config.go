package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	SignalURL  string   `mapstructure:"signal_url"`
	AppID      string   `mapstructure:"app_id"`
	ICEServers []string `mapstructure:"ice_servers"`

	ChannelPrefix string `mapstructure:"channel_prefix"`
	ClientMode    string `mapstructure:"client_mode"`
	ClientCodec   string `mapstructure:"client_codec"`

	ReconnectBase        time.Duration `mapstructure:"reconnect_base"`
	ReconnectCap         time.Duration `mapstructure:"reconnect_cap"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`

	MicRTPPort   int `mapstructure:"mic_rtp_port"`
	VideoRTPPort int `mapstructure:"video_rtp_port"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "ws://127.0.0.1:9000/ws/signal")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("channel_prefix", "room-")
	v.SetDefault("client_mode", "rtc")
	v.SetDefault("client_codec", "vp8")
	v.SetDefault("reconnect_base", "1s")
	v.SetDefault("reconnect_cap", "30s")
	v.SetDefault("reconnect_max_attempts", 5)
	v.SetDefault("mic_rtp_port", 5004)
	v.SetDefault("video_rtp_port", 5006)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
