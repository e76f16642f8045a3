package config

import (
	"flag"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" env-default:"local"`
	Relay   RelayConfig   `yaml:"relay"`
	WebRTC  WebRTCConfig  `yaml:"webrtc"`
	Limits  LimitsConfig  `yaml:"limits"`
	Recency RecencyConfig `yaml:"recency"`
	Voice   VoiceConfig   `yaml:"voice"`
}

type RelayConfig struct {
	// URL is the websocket endpoint of the signaling relay.
	URL string `yaml:"url" env:"RELAY_URL" env-default:""`
	// Address is where cmd/devrelay listens.
	Address string `yaml:"address" env-default:""`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env-default:""`
}

type LimitsConfig struct {
	MessageCapacity   float64 `yaml:"message_capacity" env-default:"10"`
	MessageRate       float64 `yaml:"message_rate" env-default:"2"`
	MicToggleCapacity float64 `yaml:"mic_toggle_capacity" env-default:"5"`
	MicToggleRate     float64 `yaml:"mic_toggle_rate" env-default:"1"`
	TypingCapacity    float64 `yaml:"typing_capacity" env-default:"3"`
	TypingRate        float64 `yaml:"typing_rate" env-default:"1"`
	RoomJoinCapacity  float64 `yaml:"room_join_capacity" env-default:"3"`
	RoomJoinRate      float64 `yaml:"room_join_rate" env-default:"0.5"`
}

type RecencyConfig struct {
	Capacity int    `yaml:"capacity" env-default:"20"`
	Path     string `yaml:"path" env:"RECENCY_PATH" env-default:""`
}

type VoiceConfig struct {
	Window           int     `yaml:"window" env-default:"10"`
	SpeakThreshold   float64 `yaml:"speak_threshold" env-default:"0.10"`
	SilenceThreshold float64 `yaml:"silence_threshold" env-default:"0.05"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.Relay.URL == "" {
		c.Relay.URL = "ws://localhost:8080"
	}
	if c.Relay.Address == "" {
		c.Relay.Address = ":8080"
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Recency.Path == "" {
		c.Recency.Path = "data/recency"
	}
}
