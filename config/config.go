package config

import (
	"os"
	"strconv"
	"time"
)

const (
	DefaultPort               = "8080"
	DefaultMaxFrameBytes      = 65536
	DefaultOutboundQueueDepth = 64
	DefaultIdleTimeout        = 120 * time.Second
	DefaultJoinTimeout        = 30 * time.Second
	DefaultRoomGrace          = 60 * time.Second
	DefaultReaperInterval     = 30 * time.Second
	DefaultShutdownDrain      = 5 * time.Second
)

// Config holds every operational knob, loaded from the environment.
type Config struct {
	Port               string
	MaxFrameBytes      int
	OutboundQueueDepth int
	IdleTimeout        time.Duration
	JoinTimeout        time.Duration
	RoomGrace          time.Duration
	ReaperInterval     time.Duration
	ShutdownDrain      time.Duration
	LogLevel           string
}

func Load() Config {
	return Config{
		Port:               getEnv("PORT", DefaultPort),
		MaxFrameBytes:      getEnvInt("MAX_FRAME_BYTES", DefaultMaxFrameBytes),
		OutboundQueueDepth: getEnvInt("OUTBOUND_QUEUE_DEPTH", DefaultOutboundQueueDepth),
		IdleTimeout:        getEnvSeconds("IDLE_TIMEOUT_SEC", DefaultIdleTimeout),
		JoinTimeout:        getEnvSeconds("JOIN_TIMEOUT_SEC", DefaultJoinTimeout),
		RoomGrace:          getEnvSeconds("ROOM_GRACE_SEC", DefaultRoomGrace),
		ReaperInterval:     getEnvSeconds("REAPER_INTERVAL_SEC", DefaultReaperInterval),
		ShutdownDrain:      getEnvSeconds("SHUTDOWN_DRAIN_SEC", DefaultShutdownDrain),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func getEnvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
