package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds the push-event server configuration
type Config struct {
	MySQL    MySQLConfig
	Redis    RedisConfig
	JWT      JWTConfig
	WS       WSConfig
	Log      LogConfig
	Migrate  bool
	HTTPAddr string
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration. An empty Addr keeps event fan-out
// inside the process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// WSConfig holds Socket.IO endpoint configuration
type WSConfig struct {
	Path           string
	ReplayLimit    int
	AllowedOrigins []string // empty allows any origin
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// WatchConfig holds the ppe-watch CLI configuration
type WatchConfig struct {
	URL               string
	Token             string
	UserID            string
	DepartmentID      string
	IsAdmin           bool
	IsManager         bool
	ShowNotifications bool
	HandshakeTimeout  int // seconds
	RetryInterval     int // seconds between reconnect attempts
	UsePolling        bool
	Log               LogConfig
}

// source resolves a value with priority: ENV > INI > default
type source struct {
	file *ini.File
}

func (s source) value(envKey, section, key, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if s.file != nil {
		if value := s.file.Section(section).Key(key).String(); value != "" {
			return value
		}
	}
	return defaultValue
}

func (s source) integer(envKey, section, key string, defaultValue int) int {
	if value := os.Getenv(envKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	if s.file != nil && s.file.Section(section).HasKey(key) {
		if value, err := s.file.Section(section).Key(key).Int(); err == nil {
			return value
		}
	}
	return defaultValue
}

func (s source) flag(envKey, section, key string, defaultValue bool) bool {
	if value := os.Getenv(envKey); value != "" {
		return value == "1" || value == "true"
	}
	if s.file != nil && s.file.Section(section).HasKey(key) {
		if value, err := s.file.Section(section).Key(key).Bool(); err == nil {
			return value
		}
	}
	return defaultValue
}

func (s source) list(envKey, section, key string) []string {
	raw := s.value(envKey, section, key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadINI(iniPath string) (source, error) {
	if iniPath == "" {
		return source{}, nil
	}
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return source{}, fmt.Errorf("failed to load INI file: %w", err)
	}
	return source{file: cfgFile}, nil
}

// Load loads server configuration from environment variables
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()
	return build(source{})
}

// LoadFromINI loads server configuration from an INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	src, err := loadINI(iniPath)
	if err != nil {
		return nil, err
	}
	return build(src)
}

func build(src source) (*Config, error) {
	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: src.value("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     src.value("REDIS_ADDR", "redis", "addr", ""),
			Password: src.value("REDIS_PASS", "redis", "pass", ""),
			DB:       src.integer("REDIS_DB", "redis", "db", 0),
			Channel:  src.value("REDIS_CHANNEL", "redis", "channel", "ppe:events"),
		},
		JWT: JWTConfig{
			Secret:        src.value("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: src.integer("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        src.value("JWT_ISSUER", "jwt", "issuer", "ppe_realtime"),
		},
		WS: WSConfig{
			Path:           src.value("WS_PATH", "ws", "path", "/socket.io/"),
			ReplayLimit:    src.integer("WS_REPLAY_LIMIT", "ws", "replay_limit", 500),
			AllowedOrigins: src.list("WS_ALLOWED_ORIGINS", "ws", "allowed_origins"),
		},
		Log: LogConfig{
			Level:  src.value("LOG_LEVEL", "log", "level", "info"),
			Format: src.value("LOG_FORMAT", "log", "format", "text"),
		},
		Migrate:  src.flag("MIGRATE", "app", "migrate", false),
		HTTPAddr: src.value("HTTP_ADDR", "http", "addr", ":8080"),
	}

	// Validate required fields
	if cfg.MySQL.DSN == "" {
		return nil, fmt.Errorf("MYSQL_DSN is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.WS.ReplayLimit <= 0 {
		return nil, fmt.Errorf("WS_REPLAY_LIMIT must be positive, got %d", cfg.WS.ReplayLimit)
	}

	return cfg, nil
}

// LoadWatch loads the CLI configuration. iniPath may be empty.
func LoadWatch(iniPath string) (*WatchConfig, error) {
	_ = godotenv.Load()

	src, err := loadINI(iniPath)
	if err != nil {
		return nil, err
	}

	cfg := &WatchConfig{
		URL:               src.value("PPE_WS_URL", "watch", "url", ""),
		Token:             src.value("PPE_TOKEN", "watch", "token", ""),
		UserID:            src.value("PPE_USER_ID", "watch", "user_id", ""),
		DepartmentID:      src.value("PPE_DEPARTMENT_ID", "watch", "department_id", ""),
		IsAdmin:           src.flag("PPE_IS_ADMIN", "watch", "is_admin", false),
		IsManager:         src.flag("PPE_IS_MANAGER", "watch", "is_manager", false),
		ShowNotifications: src.flag("PPE_SHOW_NOTIFICATIONS", "watch", "show_notifications", true),
		HandshakeTimeout:  src.integer("PPE_HANDSHAKE_TIMEOUT_SEC", "watch", "handshake_timeout_sec", 10),
		RetryInterval:     src.integer("PPE_RETRY_SEC", "watch", "retry_sec", 5),
		UsePolling:        src.flag("PPE_USE_POLLING", "watch", "use_polling", false),
		Log: LogConfig{
			Level:  src.value("LOG_LEVEL", "log", "level", "info"),
			Format: src.value("LOG_FORMAT", "log", "format", "text"),
		},
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("PPE_WS_URL is required")
	}
	if cfg.RetryInterval < 1 {
		return nil, fmt.Errorf("PPE_RETRY_SEC must be positive, got %d", cfg.RetryInterval)
	}

	return cfg, nil
}
