package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jobhub/messaging/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv читает .env только вне production (в контейнере/prod конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		f, err := os.Open(dir + "/.env")
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config: настройки клиентской сессии сообщений и локального API.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// Локальный HTTP API
	ServerAddr         string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins string

	// Сервер сообщений. Пустой WSURL включает симулятор.
	WSURL         string
	MockWebSocket bool
	UserID        string
	AuthToken     string
	// RedisURL: опциональное хранилище токенов, без него токены живут в памяти.
	RedisURL string

	// Канал
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	MaxReconnectDelay    time.Duration
	SimDelay             time.Duration
	WSWriteTimeout       time.Duration
	WSPongTimeout        time.Duration
	WSMaxMessageSize     int64

	// Стор
	TypingTimeout time.Duration
	AckTimeout    time.Duration

	LogLevel string
	SeedDemo bool
}

// yamlConfig: промежуточная структура для парсинга YAML.
type yamlConfig struct {
	ServerAddr           string `yaml:"server_addr"`
	ReadTimeout          int    `yaml:"read_timeout"`
	WriteTimeout         int    `yaml:"write_timeout"`
	IdleTimeout          int    `yaml:"idle_timeout"`
	CORSAllowedOrigins   string `yaml:"cors_allowed_origins"`
	WSURL                string `yaml:"ws_url"`
	MockWebSocket        bool   `yaml:"mock_websocket"`
	UserID               string `yaml:"user_id"`
	AuthToken            string `yaml:"auth_token"`
	RedisURL             string `yaml:"redis_url"`
	ReconnectIntervalMS  int    `yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	MaxReconnectDelayMS  int    `yaml:"max_reconnect_delay_ms"`
	SimDelayMS           int    `yaml:"sim_delay_ms"`
	WSWriteTimeout       int    `yaml:"ws_write_timeout"`
	WSPongTimeout        int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize     int    `yaml:"ws_max_message_size"`
	TypingTimeoutMS      int    `yaml:"typing_timeout_ms"`
	AckTimeoutMS         int    `yaml:"ack_timeout_ms"`
	LogLevel             string `yaml:"log_level"`
	SeedDemo             bool   `yaml:"seed_demo"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerAddr:           ":8090",
		ReadTimeout:          15,
		WriteTimeout:         15,
		IdleTimeout:          60,
		CORSAllowedOrigins:   "*",
		UserID:               "1",
		ReconnectIntervalMS:  3000,
		MaxReconnectAttempts: 5,
		SimDelayMS:           100,
		WSWriteTimeout:       10,
		WSPongTimeout:        60,
		WSMaxMessageSize:     64 << 10,
		TypingTimeoutMS:      5000,
		AckTimeoutMS:         10000,
		LogLevel:             "info",
	}
}

// Load загружает конфигурацию.
// Сначала подгружаются переменные из .env (если есть), затем YAML и env (env имеет приоритет).
func Load() *Config {
	loadEnv()
	yc := defaults()

	// CONFIG_PATH → config/messaging.yaml
	for _, path := range []string{os.Getenv("CONFIG_PATH"), "config/messaging.yaml"} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}

	cfg := &Config{
		ServerAddr:           envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:          seconds(envInt("READ_TIMEOUT", yc.ReadTimeout)),
		WriteTimeout:         seconds(envInt("WRITE_TIMEOUT", yc.WriteTimeout)),
		IdleTimeout:          seconds(envInt("IDLE_TIMEOUT", yc.IdleTimeout)),
		CORSAllowedOrigins:   envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		WSURL:                strings.TrimSpace(envStr("WS_URL", yc.WSURL)),
		MockWebSocket:        envBool("MOCK_WEBSOCKET", yc.MockWebSocket),
		UserID:               envStr("USER_ID", yc.UserID),
		AuthToken:            envStr("AUTH_TOKEN", yc.AuthToken),
		RedisURL:             envStr("REDIS_URL", yc.RedisURL),
		ReconnectInterval:    millis(envInt("RECONNECT_INTERVAL_MS", yc.ReconnectIntervalMS)),
		MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", yc.MaxReconnectAttempts),
		MaxReconnectDelay:    millis(envInt("MAX_RECONNECT_DELAY_MS", yc.MaxReconnectDelayMS)),
		SimDelay:             millis(envInt("SIM_DELAY_MS", yc.SimDelayMS)),
		WSWriteTimeout:       seconds(envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)),
		WSPongTimeout:        seconds(envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)),
		WSMaxMessageSize:     int64(envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)),
		TypingTimeout:        millis(envInt("TYPING_TIMEOUT_MS", yc.TypingTimeoutMS)),
		AckTimeout:           millis(envInt("ACK_TIMEOUT_MS", yc.AckTimeoutMS)),
		LogLevel:             envStr("LOG_LEVEL", yc.LogLevel),
		SeedDemo:             envBool("SEED_DEMO", yc.SeedDemo),
	}

	// Без адреса сервера работать можно только через симулятор
	if cfg.WSURL == "" && !cfg.MockWebSocket {
		logger.Infof("config: WS_URL не задан, используется симулятор")
		cfg.MockWebSocket = true
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: в production задайте CORS_ALLOWED_ORIGINS (явный список origins, не *)")
		}
		if cfg.MockWebSocket {
			logger.Errorf("config: в production включён симулятор канала (MOCK_WEBSOCKET / пустой WS_URL)")
		}
	}

	return cfg
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
