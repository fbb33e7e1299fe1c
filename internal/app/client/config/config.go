package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	defaultServerAddress = "localhost:8080"
	defaultLogLevel      = "info"
	defaultConfigDir     = ".mealcheck"
)

type Config struct {
	Env           string `mapstructure:"app_env"`
	ServerAddress string `mapstructure:"server_address"`
	LogLevel      string `mapstructure:"log_level"`
	ConfigDir     string `mapstructure:"config_dir"`
	DataPath      string `mapstructure:"data_path"`
	EnableTLS     bool   `mapstructure:"enable_tls"`
	StationID     string `mapstructure:"station_id"`
	QRSecret      string `mapstructure:"qr_secret"`
	// MetricsAddress адрес /metrics станции, пусто - не публиковать
	MetricsAddress string `mapstructure:"metrics_address"`

	SyncInterval           time.Duration
	ProbeInterval          time.Duration
	RequestTimeout         time.Duration
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	MaxConsecutiveFailures int
}

// Load загружает конфигурацию станции из .env, окружения и флагов, привязанных к viper
func Load() (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	viper.AutomaticEnv()

	viper.SetDefault("APP_ENV", EnvLocal)
	viper.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("CONFIG_DIR", defaultConfigDir)
	viper.SetDefault("ENABLE_TLS", false)
	viper.SetDefault("SYNC_INTERVAL_MS", 30000)
	viper.SetDefault("PROBE_INTERVAL_MS", 10000)
	viper.SetDefault("REQUEST_TIMEOUT_MS", 5000)
	viper.SetDefault("BASE_BACKOFF_MS", 1000)
	viper.SetDefault("MAX_BACKOFF_MS", 300000)
	viper.SetDefault("MAX_CONSECUTIVE_FAILURES", 3)

	configDir := viper.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		configDir = filepath.Join(homeDir, configDir)
	}

	dataPath := viper.GetString("DATA_PATH")
	if dataPath == "" {
		if err := os.MkdirAll(configDir, 0700); err != nil {
			return nil, fmt.Errorf("создание директории конфигурации: %w", err)
		}
		dataPath = filepath.Join(configDir, "queue.db")
	}

	stationID := viper.GetString("STATION_ID")
	if stationID == "" {
		if host, err := os.Hostname(); err == nil {
			stationID = host
		}
	}

	cfg := &Config{
		Env:                    viper.GetString("APP_ENV"),
		ServerAddress:          viper.GetString("SERVER_ADDRESS"),
		LogLevel:               viper.GetString("LOG_LEVEL"),
		ConfigDir:              configDir,
		DataPath:               dataPath,
		EnableTLS:              viper.GetBool("ENABLE_TLS"),
		StationID:              stationID,
		QRSecret:               viper.GetString("QR_SECRET"),
		MetricsAddress:         viper.GetString("METRICS_ADDRESS"),
		SyncInterval:           millis("SYNC_INTERVAL_MS"),
		ProbeInterval:          millis("PROBE_INTERVAL_MS"),
		RequestTimeout:         millis("REQUEST_TIMEOUT_MS"),
		BaseBackoff:            millis("BASE_BACKOFF_MS"),
		MaxBackoff:             millis("MAX_BACKOFF_MS"),
		MaxConsecutiveFailures: viper.GetInt("MAX_CONSECUTIVE_FAILURES"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, nil
}

// MustLoad загружает конфигурацию станции
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func millis(key string) time.Duration {
	return time.Duration(viper.GetInt64(key)) * time.Millisecond
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address не может быть пустым")
	}
	if c.QRSecret == "" {
		return fmt.Errorf("qr_secret не может быть пустым")
	}
	if c.StationID == "" {
		return fmt.Errorf("station_id не может быть пустым")
	}
	if c.RequestTimeout <= 0 || c.SyncInterval <= 0 || c.ProbeInterval <= 0 {
		return fmt.Errorf("интервалы должны быть положительными")
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("base_backoff_ms должен быть положительным и не больше max_backoff_ms")
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures должен быть не меньше 1")
	}
	return nil
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal || c.Env == ""
}
