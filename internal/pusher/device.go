package pusher

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"storeops-hvac/internal/config"
	"storeops-hvac/internal/domain"
)

// TemperatureCommand carries a temperature push. Single setpoint for heat
// or cool mode; High/Low for the combined heat-cool mode.
type TemperatureCommand struct {
	Setpoint *float64
	High     *float64
	Low      *float64
}

// DeviceClient is the abstract device-control contract: three commands and
// one query against the home-automation REST backend.
type DeviceClient interface {
	GetState(ctx context.Context, entityID string) (*domain.ThermostatState, error)
	SetHVACMode(ctx context.Context, entityID, mode string) error
	SetTemperature(ctx context.Context, entityID string, cmd TemperatureCommand) error
	SetFanMode(ctx context.Context, entityID, mode string) error
	Health(ctx context.Context) error
}

// RestDeviceClient talks to the device API over REST with bearer auth.
type RestDeviceClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewRestDeviceClient creates the device API client. The config timeout
// bounds every in-flight request via request cancellation.
func NewRestDeviceClient(cfg *config.DeviceAPIConfig, logger *zap.Logger) *RestDeviceClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RestDeviceClient{
		httpClient: client,
		logger:     logger,
	}
}

var _ DeviceClient = (*RestDeviceClient)(nil)

// GetState queries the device's reported state.
func (c *RestDeviceClient) GetState(ctx context.Context, entityID string) (*domain.ThermostatState, error) {
	var state domain.ThermostatState
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&state).
		SetPathParam("entity", entityID).
		Get("/api/thermostats/{entity}/state")
	if err != nil {
		return nil, fmt.Errorf("failed to get device state: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("device state query returned %d", resp.StatusCode())
	}
	return &state, nil
}

// SetHVACMode issues a mode-change command.
func (c *RestDeviceClient) SetHVACMode(ctx context.Context, entityID, mode string) error {
	return c.post(ctx, entityID, "/api/thermostats/{entity}/mode", map[string]any{"mode": mode})
}

// SetTemperature issues a temperature command.
func (c *RestDeviceClient) SetTemperature(ctx context.Context, entityID string, cmd TemperatureCommand) error {
	body := map[string]any{}
	if cmd.Setpoint != nil {
		body["setpoint"] = *cmd.Setpoint
	}
	if cmd.High != nil {
		body["high"] = *cmd.High
	}
	if cmd.Low != nil {
		body["low"] = *cmd.Low
	}
	return c.post(ctx, entityID, "/api/thermostats/{entity}/temperature", body)
}

// SetFanMode issues a fan-mode command.
func (c *RestDeviceClient) SetFanMode(ctx context.Context, entityID, mode string) error {
	return c.post(ctx, entityID, "/api/thermostats/{entity}/fan", map[string]any{"mode": mode})
}

// Health probes the device API before any zone processing.
func (c *RestDeviceClient) Health(ctx context.Context) error {
	resp, err := c.httpClient.R().SetContext(ctx).Get("/api/health")
	if err != nil {
		return fmt.Errorf("device API unreachable: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("device API health returned %d", resp.StatusCode())
	}
	return nil
}

func (c *RestDeviceClient) post(ctx context.Context, entityID, path string, body map[string]any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("entity", entityID).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("device command failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("device command returned %d", resp.StatusCode())
	}
	return nil
}
