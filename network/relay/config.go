package relay

import (
	"time"
)

type Config struct {
	// DialTimeout bounds a connection attempt, handshake included.
	DialTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// ReadLimit is the maximum size in bytes of an inbound frame.
	ReadLimit int64

	// BackoffBase is the delay before the first reconnect; it doubles with every failed attempt.
	BackoffBase time.Duration
	// BackoffCap caps the reconnect delay.
	BackoffCap time.Duration
	// BackoffJitterPercent randomizes each delay by up to this percentage.
	BackoffJitterPercent uint64

	// MaxFramesPerSecond limits outbound frames per relay. Zero disables the limit.
	MaxFramesPerSecond float64
	// FrameBurst is the number of frames that may be sent at once above the rate.
	FrameBurst int
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadLimit:            4 << 20,
		BackoffBase:          time.Second,
		BackoffCap:           5 * time.Minute,
		BackoffJitterPercent: 20,
		MaxFramesPerSecond:   20,
		FrameBurst:           50,
	}
}
