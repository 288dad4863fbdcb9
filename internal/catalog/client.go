package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 30 * time.Second

	// maxResponseSize bounds a single catalog list.
	maxResponseSize = 10 << 20
)

// Client fetches catalog lists from the backend over HTTP.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the backend at baseURL.
// A zero timeout selects the default of 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the endpoint for a resource: <base>/api/<path>/.
func (c *Client) URL(resource Resource) string {
	return c.baseURL + "/api/" + resource.Path() + "/"
}

// Fetch performs GET /api/<resource>/ and returns the raw JSON array.
//
// A non-success status returns a *FetchError whose Cause is the decoded
// response body. Transport failures wrap ErrFetchFailed.
func (c *Client) Fetch(ctx context.Context, resource Resource) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(resource), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, resource, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrFetchFailed, resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Resource: resource, Status: resp.StatusCode, Cause: decodeCause(body)}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s: response is not JSON", ErrInvalidPayload, resource)
	}
	return json.RawMessage(body), nil
}

// decodeCause returns the JSON body as a generic value, or the trimmed text.
func decodeCause(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return strings.TrimSpace(string(body))
}

func fetchList[T any](ctx context.Context, c *Client, resource Resource) ([]T, error) {
	raw, err := c.Fetch(ctx, resource)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, resource, err)
	}
	return items, nil
}

// FetchControllers fetches GET /api/controllers/.
func (c *Client) FetchControllers(ctx context.Context) ([]Controller, error) {
	return fetchList[Controller](ctx, c, ResourceControllers)
}

// FetchTurnouts fetches GET /api/turnouts/.
func (c *Client) FetchTurnouts(ctx context.Context) ([]Turnout, error) {
	return fetchList[Turnout](ctx, c, ResourceTurnouts)
}

// FetchDevices fetches GET /api/devices/.
func (c *Client) FetchDevices(ctx context.Context) ([]Device, error) {
	return fetchList[Device](ctx, c, ResourceDevices)
}

// FetchEntities fetches GET /api/entities/.
func (c *Client) FetchEntities(ctx context.Context) ([]Entity, error) {
	return fetchList[Entity](ctx, c, ResourceEntities)
}

// FetchBlockDetectors fetches GET /api/block-detectors/.
func (c *Client) FetchBlockDetectors(ctx context.Context) ([]BlockDetector, error) {
	return fetchList[BlockDetector](ctx, c, ResourceBlockDetectors)
}

// FetchPoints fetches GET /api/points/.
func (c *Client) FetchPoints(ctx context.Context) ([]Points, error) {
	return fetchList[Points](ctx, c, ResourcePoints)
}

// FetchPowerSwitches fetches GET /api/power-switches/.
func (c *Client) FetchPowerSwitches(ctx context.Context) ([]PowerSwitch, error) {
	return fetchList[PowerSwitch](ctx, c, ResourcePowerSwitches)
}

// FetchSignals fetches GET /api/signals/.
func (c *Client) FetchSignals(ctx context.Context) ([]Signal, error) {
	return fetchList[Signal](ctx, c, ResourceSignals)
}

// FetchSignalAutomations fetches GET /api/signal-automations/.
func (c *Client) FetchSignalAutomations(ctx context.Context) ([]SignalAutomation, error) {
	return fetchList[SignalAutomation](ctx, c, ResourceSignalAutomations)
}

// FetchTrains fetches GET /api/trains/.
func (c *Client) FetchTrains(ctx context.Context) ([]Train, error) {
	return fetchList[Train](ctx, c, ResourceTrains)
}

// FetchTrainControllers fetches GET /api/train-controllers/.
func (c *Client) FetchTrainControllers(ctx context.Context) ([]TrainController, error) {
	return fetchList[TrainController](ctx, c, ResourceTrainControllers)
}
