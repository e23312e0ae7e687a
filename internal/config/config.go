package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config содержит настройки всего приложения
type Config struct {
	Bot      BotConfig      `yaml:"bot"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Server   ServerConfig   `yaml:"server"`
	Limit    LimitConfig    `yaml:"limit"`
}

// BotConfig содержит настройки Telegram бота для уведомлений
type BotConfig struct {
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

// DatabaseConfig содержит настройки базы данных
type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SyncConfig содержит настройки фонового цикла сверки трафика
type SyncConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Interval возвращает интервал между циклами сверки
func (sc *SyncConfig) Interval() time.Duration {
	return time.Duration(sc.IntervalSeconds) * time.Second
}

// FetchConfig содержит настройки обращений к панелям и кэша подписок
type FetchConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	MaxWorkers      int `yaml:"max_workers"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

// CacheTTL возвращает время жизни записей кэша
func (fc *FetchConfig) CacheTTL() time.Duration {
	return time.Duration(fc.CacheTTLSeconds) * time.Second
}

// Timeout возвращает таймаут HTTP-запросов к панелям
func (fc *FetchConfig) Timeout() time.Duration {
	return time.Duration(fc.TimeoutSeconds) * time.Second
}

// ServerConfig содержит настройки HTTP-сервера подписок
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr возвращает адрес для прослушивания
func (sc *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", sc.Host, sc.Port)
}

// LimitConfig содержит заглушку и шаблон сообщения при исчерпании лимита
type LimitConfig struct {
	Config  string `yaml:"config"`
	Message string `yaml:"message"`
}

// GetConnectionString возвращает строку подключения к базе данных
func (dc *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dc.Host, dc.Port, dc.User, dc.Password, dc.DBName, dc.SSLMode)
}

// Load загружает конфигурацию из файла и применяет переменные окружения
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Error reading config file: %v", err)
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		log.Printf("Error unmarshaling config: %v", err)
		return nil, err
	}

	config.applyDefaults()
	config.applyEnv()
	return &config, nil
}

// applyDefaults заполняет незаданные настройки значениями по умолчанию
func (c *Config) applyDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = 60
	}
	if c.Fetch.CacheTTLSeconds <= 0 {
		c.Fetch.CacheTTLSeconds = 300
	}
	if c.Fetch.MaxWorkers <= 0 {
		c.Fetch.MaxWorkers = 5
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 20
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Limit.Config == "" {
		c.Limit.Config = "vless://limitreached@info.info:80?encryption=none&security=none&type=tcp&headerType=none"
	}
	if c.Limit.Message == "" {
		c.Limit.Message = "User {username} has reached data limit ({used} / {limit})"
	}
}

// applyEnv применяет переменные окружения поверх файла конфигурации
func (c *Config) applyEnv() {
	if v, ok := envInt("USAGE_SYNC_INTERVAL"); ok {
		c.Sync.IntervalSeconds = v
	}
	if v, ok := envInt("FETCH_CACHE_TTL"); ok {
		c.Fetch.CacheTTLSeconds = v
	}
	if v, ok := envInt("FETCH_MAX_WORKERS"); ok {
		c.Fetch.MaxWorkers = v
	}
	if v, ok := envInt("DB_MAX_OPEN_CONNS"); ok {
		c.Database.MaxOpenConns = v
	}
	if v := os.Getenv("USER_LIMIT_REACHED_CONFIG"); v != "" {
		c.Limit.Config = v
	}
	if v := os.Getenv("USER_LIMIT_REACHED_MESSAGE"); v != "" {
		c.Limit.Message = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Некорректное значение %s=%q, игнорируется", name, v)
		return 0, false
	}
	return n, true
}
