package bootstrap

import (
	"github.com/spf13/viper"
)

type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	KatagoPath         string `mapstructure:"KATAGO_PATH"`
	KatagoModel        string `mapstructure:"KATAGO_MODEL"`
	KatagoConfig       string `mapstructure:"KATAGO_CONFIG"`
	DefaultMaxVisits   int    `mapstructure:"DEFAULT_MAX_VISITS"`
	ResponseTimeoutSec int    `mapstructure:"RESPONSE_TIMEOUT_SEC"`
	RecognizerUrl      string `mapstructure:"RECOGNIZER_URL"`
	RedisUrl           string `mapstructure:"REDIS_URL"`
	CacheTTLSec        int    `mapstructure:"CACHE_TTL_SEC"`
	StaticDir          string `mapstructure:"STATIC_DIR"`
	IsLocalCors        bool   `mapstructure:"LOCAL_CORS"`
}

func Setup(cfgPath string) (*Config, error) {
	viper.SetConfigFile(cfgPath)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.DefaultMaxVisits <= 0 {
		c.DefaultMaxVisits = 3000
	}
	if c.ResponseTimeoutSec <= 0 {
		c.ResponseTimeoutSec = 300
	}
	if c.CacheTTLSec <= 0 {
		c.CacheTTLSec = 600
	}
	if c.StaticDir == "" {
		c.StaticDir = "./static"
	}
}
