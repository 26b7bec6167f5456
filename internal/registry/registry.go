package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned by Reserve when the unit is already held.
var ErrUnavailable = errors.New("unit is not available")

// Client talks to the external unit-registry service. Reserve is a
// compare-and-swap on the availability flag; Release is idempotent.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

func NewClient(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Reserve(ctx context.Context, unitID uuid.UUID) error {
	status, err := c.post(ctx, fmt.Sprintf("%s/units/%s/reserve", c.baseURL, unitID))
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return ErrUnavailable
	}

	return fmt.Errorf("unexpected status code %d reserving unit %s", status, unitID)
}

func (c *Client) Release(ctx context.Context, unitID uuid.UUID) error {
	status, err := c.post(ctx, fmt.Sprintf("%s/units/%s/release", c.baseURL, unitID))
	if err != nil {
		return err
	}

	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("unexpected status code %d releasing unit %s", status, unitID)
	}

	return nil
}

func (c *Client) post(ctx context.Context, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	if c.apiToken != "" {
		req.Header.Set("Authorization", "Token "+c.apiToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// Memory is an in-process registry used in development mode and tests.
// Units it has never seen are considered available.
type Memory struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func NewMemory() *Memory {
	return &Memory{held: make(map[uuid.UUID]bool)}
}

func (m *Memory) Reserve(_ context.Context, unitID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held[unitID] {
		return ErrUnavailable
	}

	m.held[unitID] = true

	return nil
}

func (m *Memory) Release(_ context.Context, unitID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, unitID)

	return nil
}

func (m *Memory) Available(unitID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.held[unitID]
}
