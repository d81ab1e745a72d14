package device

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"
)

// NodeProber inspects permission state without prompting: the camera by
// trying to open its device node read-only, location by asking the
// geolocation bridge's status endpoint. When a probe backend is missing
// it reports Unknown and lets the actual acquisition surface the real error.
type NodeProber struct {
	CameraPath  string
	LocationURL string

	httpClient *http.Client
}

// NewNodeProber creates a prober for the given camera device node and
// geolocation bridge URL. Either may be empty, in which case that
// capability reports Unknown.
func NewNodeProber(cameraPath, locationURL string) *NodeProber {
	return &NodeProber{
		CameraPath:  cameraPath,
		LocationURL: locationURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (p *NodeProber) CheckPermissions(ctx context.Context) Permissions {
	return Permissions{
		Camera:   p.probeCamera(),
		Location: p.probeLocation(ctx),
	}
}

func (p *NodeProber) probeCamera() PermissionState {
	if p.CameraPath == "" {
		return PermissionUnknown
	}
	err := probeNode(p.CameraPath)
	switch {
	case err == nil:
		return PermissionGranted
	case errors.Is(err, fs.ErrPermission):
		return PermissionDenied
	default:
		return PermissionUnknown
	}
}

func (p *NodeProber) probeLocation(ctx context.Context) PermissionState {
	if p.LocationURL == "" {
		return PermissionUnknown
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.LocationURL+"/api/status", nil)
	if err != nil {
		return PermissionUnknown
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return PermissionUnknown
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return PermissionGranted
	case http.StatusUnauthorized, http.StatusForbidden:
		return PermissionDenied
	default:
		return PermissionUnknown
	}
}
