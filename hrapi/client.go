package hrapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go-attendance-agent/capture"
	"go-attendance-agent/models"
)

// TokenSource supplies the bearer token attached to every HR API request.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the remote HR API: face pre-check, enrollment and
// attendance verification. It satisfies capture.Submitter.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a client for the given HR API base URL. tokens may be
// nil for deployments that authenticate at the network layer.
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckFace posts a single frame to /face/check and returns the face
// count result.
func (c *Client) CheckFace(ctx context.Context, frame capture.Frame) (models.FaceCheckResult, error) {
	env, err := c.postMultipart(ctx, "/face/check", nil, []capture.Frame{frame})
	if err != nil {
		return models.FaceCheckResult{}, fmt.Errorf("face check failed: %w", err)
	}

	var result models.FaceCheckResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return models.FaceCheckResult{}, fmt.Errorf("failed to decode face check response: %w", err)
	}

	slog.Debug("Face pre-check completed", "has_face", result.HasFace, "count", result.Count)
	return result, nil
}

// EnrollFace posts the full frame set to /face/enroll.
func (c *Client) EnrollFace(ctx context.Context, subject string, frames []capture.Frame) error {
	fields := map[string]string{"employee_id": subject}
	if _, err := c.postMultipart(ctx, "/face/enroll", fields, frames); err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}
	slog.Info("Face enrollment accepted", "subject", subject, "frames", len(frames))
	return nil
}

// SubmitAttendance posts the frame set plus the location fix to the
// check-in or check-out endpoint.
func (c *Client) SubmitAttendance(ctx context.Context, purpose capture.Purpose, subject string, frames []capture.Frame, loc models.Location) error {
	var path string
	switch purpose {
	case capture.PurposeCheckIn:
		path = "/attendance/check-in"
	case capture.PurposeCheckOut:
		path = "/attendance/check-out"
	default:
		return fmt.Errorf("purpose %q is not an attendance submission", purpose)
	}

	fields := map[string]string{
		"employee_id": subject,
		"latitude":    strconv.FormatFloat(loc.Latitude, 'f', -1, 64),
		"longitude":   strconv.FormatFloat(loc.Longitude, 'f', -1, 64),
	}
	if _, err := c.postMultipart(ctx, path, fields, frames); err != nil {
		return fmt.Errorf("%s failed: %w", purpose, err)
	}
	slog.Info("Attendance accepted", "purpose", purpose.String(), "subject", subject, "frames", len(frames))
	return nil
}

// HealthCheck verifies the HR API is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) postMultipart(ctx context.Context, path string, fields map[string]string, frames []capture.Frame) (models.Envelope, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return models.Envelope{}, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}
	for _, frame := range frames {
		part, err := writer.CreateFormFile("images", frame.Name)
		if err != nil {
			return models.Envelope{}, fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := part.Write(frame.Data); err != nil {
			return models.Envelope{}, fmt.Errorf("failed to write frame %s: %w", frame.Name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return models.Envelope{}, fmt.Errorf("failed to obtain api token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return models.Envelope{}, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var env models.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Ok() {
		return env, fmt.Errorf("api rejected request: status %d: %s", env.StatusCode, env.Message)
	}
	return env, nil
}
