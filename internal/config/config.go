// Package config loads client configuration.
// Priority: environment variables > YAML file > defaults.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/messenger/client-go/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env only outside production (in containers/prod config
// comes from the environment alone). Walks up to five parent directories.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config holds all client settings: server endpoints, page sizes and
// the socket tuning knobs.
type Config struct {
	// Endpoints
	ServerURL string // REST base URL
	SocketURL string // event channel URL (ws:// or wss://)

	// HTTP
	RequestTimeout time.Duration

	// Pagination
	ConversationPageSize int
	MessagePageSize      int
	FriendPageSize       int

	// Typing indicator debounce
	TypingDebounce time.Duration

	// Socket tuning
	SocketWriteTimeout time.Duration
	SocketPongTimeout  time.Duration
	SocketAckTimeout   time.Duration
	SocketSendBuffer   int

	// Logging
	LogLevel string
}

// yamlConfig is the intermediate shape for parsing client.yaml.
type yamlConfig struct {
	ServerURL            string `yaml:"server_url"`
	SocketURL            string `yaml:"socket_url"`
	RequestTimeout       int    `yaml:"request_timeout"`
	ConversationPageSize int    `yaml:"conversation_page_size"`
	MessagePageSize      int    `yaml:"message_page_size"`
	FriendPageSize       int    `yaml:"friend_page_size"`
	TypingDebounceMS     int    `yaml:"typing_debounce_ms"`
	SocketWriteTimeout   int    `yaml:"socket_write_timeout"`
	SocketPongTimeout    int    `yaml:"socket_pong_timeout"`
	SocketAckTimeout     int    `yaml:"socket_ack_timeout"`
	SocketSendBuffer     int    `yaml:"socket_send_buffer"`
	LogLevel             string `yaml:"log_level"`
}

// Load loads the configuration.
// .env variables are applied first (if present), then YAML, then the
// environment overrides everything.
func Load() *Config {
	loadEnv()
	// Defaults
	yc := yamlConfig{
		ServerURL:            "http://localhost:8080",
		SocketURL:            "ws://localhost:8081/chat",
		RequestTimeout:       15,
		ConversationPageSize: 20,
		MessagePageSize:      50,
		FriendPageSize:       50,
		TypingDebounceMS:     1500,
		SocketWriteTimeout:   10,
		SocketPongTimeout:    60,
		SocketAckTimeout:     10,
		SocketSendBuffer:     256,
		LogLevel:             "info",
	}

	// CONFIG_PATH > config/client.yaml
	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		ServerURL:            envStr("SERVER_URL", yc.ServerURL),
		SocketURL:            envStr("SOCKET_URL", yc.SocketURL),
		RequestTimeout:       time.Duration(envInt("REQUEST_TIMEOUT", yc.RequestTimeout)) * time.Second,
		ConversationPageSize: envInt("CONVERSATION_PAGE_SIZE", yc.ConversationPageSize),
		MessagePageSize:      envInt("MESSAGE_PAGE_SIZE", yc.MessagePageSize),
		FriendPageSize:       envInt("FRIEND_PAGE_SIZE", yc.FriendPageSize),
		TypingDebounce:       time.Duration(envInt("TYPING_DEBOUNCE_MS", yc.TypingDebounceMS)) * time.Millisecond,
		SocketWriteTimeout:   time.Duration(envInt("SOCKET_WRITE_TIMEOUT", yc.SocketWriteTimeout)) * time.Second,
		SocketPongTimeout:    time.Duration(envInt("SOCKET_PONG_TIMEOUT", yc.SocketPongTimeout)) * time.Second,
		SocketAckTimeout:     time.Duration(envInt("SOCKET_ACK_TIMEOUT", yc.SocketAckTimeout)) * time.Second,
		SocketSendBuffer:     envInt("SOCKET_SEND_BUFFER", yc.SocketSendBuffer),
		LogLevel:             envStr("LOG_LEVEL", yc.LogLevel),
	}

	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = 50
	}
	if cfg.TypingDebounce <= 0 {
		cfg.TypingDebounce = 1500 * time.Millisecond
	}

	return cfg
}

// envStr returns the environment variable value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric environment variable value or fallback.
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
