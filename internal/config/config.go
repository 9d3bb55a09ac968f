package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	// client
	AuthorityURL   string
	AuthorityWSURL string
	UserID         string
	Username       string
	TurnTimeout    time.Duration
	PollInterval   time.Duration
	BoardPNGPath   string
	MessagesDir    string

	// authority
	ListenAddr   string
	WSListenAddr string
	RedisURL     string
	DatabaseURL  string
	RoomTTL      time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		TurnTimeout:  20 * time.Second,
		PollInterval: 1500 * time.Millisecond,
		ListenAddr:   ":8080",
		WSListenAddr: ":8081",
		RoomTTL:      24 * time.Hour,
	}

	cfg.AuthorityURL = strings.TrimRight(strings.TrimSpace(os.Getenv("AUTHORITY_URL")), "/")
	cfg.AuthorityWSURL = strings.TrimRight(strings.TrimSpace(os.Getenv("AUTHORITY_WS_URL")), "/")
	cfg.UserID = strings.TrimSpace(os.Getenv("USER_ID"))
	cfg.Username = strings.TrimSpace(os.Getenv("USERNAME"))
	cfg.BoardPNGPath = strings.TrimSpace(os.Getenv("BOARD_PNG_PATH"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("TURN_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TurnTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Millisecond
		}
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("WS_LISTEN_ADDR")); v != "" {
		cfg.WSListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("ROOM_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomTTL = time.Duration(n) * time.Second
		}
	}

	if cfg.Username == "" {
		cfg.Username = cfg.UserID
	}
	return cfg, nil
}

// ValidateClient checks what the terminal client needs. Solo play needs no
// settings. The push relay listens apart from the RPC port, so shared play
// needs both URLs.
func (c *AppConfig) ValidateClient(shared bool) error {
	if !shared {
		return nil
	}
	if c.AuthorityURL == "" {
		return errors.New("AUTHORITY_URL is required for shared play")
	}
	if c.AuthorityWSURL == "" {
		return errors.New("AUTHORITY_WS_URL is required for shared play")
	}
	if c.UserID == "" {
		return errors.New("USER_ID is required for shared play")
	}
	return nil
}

func (c *AppConfig) ValidateAuthority() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR is required")
	}
	return nil
}
