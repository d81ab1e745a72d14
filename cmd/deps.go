package cmd

import (
	"fmt"
	"log/slog"

	"go-attendance-agent/capture"
	"go-attendance-agent/config"
	"go-attendance-agent/device"
	"go-attendance-agent/events"
	"go-attendance-agent/hrapi"
	"go-attendance-agent/redis"
	"go-attendance-agent/storage"
)

// agentDeps bundles the live collaborators both the serve loop and the
// one-shot capture commands need.
type agentDeps struct {
	camera    device.Camera
	locator   device.Locator
	prober    device.Prober
	submitter *hrapi.Client
	attempts  storage.AttemptStore
	publisher events.Publisher
}

func (d *agentDeps) close() {
	if err := d.publisher.Close(); err != nil {
		slog.Error("Failed to close event publisher", "error", err)
	}
}

func buildDeps(cfg config.Config) (*agentDeps, error) {
	var tokens hrapi.TokenSource
	if cfg.HRAPI.DeviceKeyPath != "" {
		source, err := hrapi.NewDeviceTokenSource(cfg.HRAPI.DeviceKeyPath, cfg.HRAPI.TerminalID, cfg.HRAPI.TenantID, cfg.HRAPI.TokenTTL())
		if err != nil {
			return nil, fmt.Errorf("failed to load device key: %w", err)
		}
		tokens = source
	} else {
		slog.Warn("No device key configured, HR API requests will be unauthenticated")
	}

	attempts, err := buildAttemptStore(cfg)
	if err != nil {
		return nil, err
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		publisher, err = events.NewAMQPPublisher(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
	}

	return &agentDeps{
		camera:    device.NewWebcam(cfg.Device.CameraID),
		locator:   device.NewHTTPLocator(cfg.Device.LocationURL),
		prober:    device.NewNodeProber(cfg.Device.CameraNode(), cfg.Device.LocationURL),
		submitter: hrapi.NewClient(cfg.HRAPI.BaseURL, tokens),
		attempts:  attempts,
		publisher: publisher,
	}, nil
}

func buildAttemptStore(cfg config.Config) (storage.AttemptStore, error) {
	switch cfg.StorageType {
	case "redis":
		slog.Info("Using Redis attempt store")
		client, err := redis.NewRedisClient(&cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisAttemptStore(client, cfg.RedisConfig.Namespace), nil
	case "redis_sentinel":
		slog.Info("Using Redis Sentinel attempt store")
		client, err := redis.NewRedisSentinelClient(&cfg.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return storage.NewRedisAttemptStore(client, cfg.RedisSentinelConfig.Namespace), nil
	default:
		slog.Info("Using in-memory attempt store")
		return storage.NewInMemoryAttemptStore(), nil
	}
}

func profiles(cfg config.Config) func(capture.Purpose) capture.Profile {
	return cfg.Capture.ProfileFor
}
