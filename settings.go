package torrent

import (
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/time/rate"
)

// Settings is the engine-wide configuration surface. Struct tags follow the
// client config's own style so the same flag-binding machinery that parses
// ClientConfig can parse this.
type Settings struct {
	AllowPeerExchange    bool `long:"allow-peer-exchange"`
	AllowHaveSuppression bool `long:"allow-have-suppression"`

	WebSeedDelay         time.Duration `long:"web-seed-delay"`
	WebSeedSpeedTrigger  int64         `long:"web-seed-speed-trigger"` // bytes/sec

	MaximumConnections int `long:"maximum-connections"`
	ListenPort         int `long:"listen-port"`

	TickInterval   time.Duration `long:"tick-interval"`
	TicksPerSecond int           `long:"ticks-per-second"`

	// Ambient knobs not named individually in the dispatch/tick contract
	// but required to drive the rate-limited paths they describe.
	UploadRateLimiter   *rate.Limiter
	DownloadRateLimiter *rate.Limiter

	RequestsBase        int   `long:"requests-base"`
	RequestsBonusPerKB  int64 `long:"requests-bonus-per-kb"`
	RequestsMin         int   `long:"requests-min"`

	Debug  bool `long:"debug"`
	Logger log.Logger
}

// DefaultSettings mirrors the conservative defaults the reference client
// ships with testing.go's TestingConfig, scaled for production use.
func DefaultSettings() *Settings {
	return &Settings{
		AllowPeerExchange:    true,
		AllowHaveSuppression: true,
		WebSeedDelay:         5 * time.Second,
		WebSeedSpeedTrigger:  2 << 10,
		MaximumConnections:   80,
		TickInterval:         500 * time.Millisecond,
		TicksPerSecond:       2,
		RequestsBase:         4,
		RequestsBonusPerKB:   5,
		RequestsMin:          2,
		Logger:               log.Default,
	}
}
