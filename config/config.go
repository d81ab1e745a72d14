package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go-attendance-agent/capture"
	"go-attendance-agent/events"
	"go-attendance-agent/redis"
)

// ServerConfig configures the local control API listener.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

// HRAPIConfig configures the remote HR API client and the device
// credential used to authenticate to it.
type HRAPIConfig struct {
	BaseURL         string `json:"base_url"`
	DeviceKeyPath   string `json:"device_key_path,omitempty"`
	TerminalID      string `json:"terminal_id"`
	TenantID        string `json:"tenant_id"`
	TokenTTLSeconds int    `json:"token_ttl_seconds,omitempty"`
}

// DeviceConfig configures the camera and geolocation backends.
type DeviceConfig struct {
	CameraID    int    `json:"camera_id"`
	CameraPath  string `json:"camera_path,omitempty"` // defaults to /dev/video{camera_id}
	LocationURL string `json:"location_url,omitempty"`
}

// ProfileConfig overrides the built-in capture profile parameters.
// Zero values keep the defaults.
type ProfileConfig struct {
	FrameCount        int  `json:"frame_count,omitempty"`
	CaptureWindowMs   int  `json:"capture_window_ms,omitempty"`
	MinFrames         int  `json:"min_frames,omitempty"`
	CountdownFrom     int  `json:"countdown_from,omitempty"`
	MaxAttempts       int  `json:"max_attempts,omitempty"`
	LocationTimeoutMs int  `json:"location_timeout_ms,omitempty"`
	LocationMaxAgeMs  int  `json:"location_max_age_ms,omitempty"`
	HighAccuracy      bool `json:"high_accuracy,omitempty"`
}

// Apply layers the overrides over a base profile.
func (p ProfileConfig) Apply(base capture.Profile) capture.Profile {
	if p.FrameCount > 0 {
		base.FrameCount = p.FrameCount
	}
	if p.CaptureWindowMs > 0 {
		base.CaptureWindow = time.Duration(p.CaptureWindowMs) * time.Millisecond
	}
	if p.MinFrames > 0 {
		base.MinFrames = p.MinFrames
	}
	if p.CountdownFrom > 0 {
		base.CountdownFrom = p.CountdownFrom
	}
	if p.MaxAttempts > 0 {
		base.MaxAttempts = p.MaxAttempts
	}
	if p.LocationTimeoutMs > 0 {
		base.Location.Timeout = time.Duration(p.LocationTimeoutMs) * time.Millisecond
	}
	if p.LocationMaxAgeMs > 0 {
		base.Location.MaximumAge = time.Duration(p.LocationMaxAgeMs) * time.Millisecond
	}
	if p.HighAccuracy {
		base.Location.HighAccuracy = true
	}
	return base
}

// CaptureConfig holds per-flow profile overrides.
type CaptureConfig struct {
	Enroll     ProfileConfig `json:"enroll,omitempty"`
	Attendance ProfileConfig `json:"attendance,omitempty"`
}

// ProfileFor resolves the effective profile for a purpose.
func (c CaptureConfig) ProfileFor(p capture.Purpose) capture.Profile {
	if p == capture.PurposeEnroll {
		return c.Enroll.Apply(capture.EnrollProfile())
	}
	return c.Attendance.Apply(capture.AttendanceProfile())
}

// Config is the agent's root configuration, read from a JSON file.
type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	HRAPI   HRAPIConfig   `json:"hr_api"`
	Device  DeviceConfig  `json:"device"`
	Capture CaptureConfig `json:"capture,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`

	Events events.AMQPConfig `json:"events,omitempty"`
}

// CameraNode returns the device node used for the permission probe.
func (c DeviceConfig) CameraNode() string {
	if c.CameraPath != "" {
		return c.CameraPath
	}
	return fmt.Sprintf("/dev/video%d", c.CameraID)
}

// TokenTTL returns the configured device token lifetime.
func (c HRAPIConfig) TokenTTL() time.Duration {
	if c.TokenTTLSeconds > 0 {
		return time.Duration(c.TokenTTLSeconds) * time.Second
	}
	return 5 * time.Minute
}

// ReadConfigFile loads and decodes the JSON config at path.
func ReadConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}
