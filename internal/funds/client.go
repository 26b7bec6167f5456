package funds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Client talks to the external funds-transfer service.
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

type transferPayload struct {
	Kind    Kind      `json:"kind"`
	PartyID uuid.UUID `json:"party_id"`
	Amount  int64     `json:"amount"`
}

type receiptPayload struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	PartyID   uuid.UUID `json:"party_id"`
	Amount    int64     `json:"amount"`
	Reversed  bool      `json:"reversed"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	body, err := json.Marshal(transferPayload{Kind: req.Kind, PartyID: req.PartyID, Amount: req.Amount})
	if err != nil {
		return nil, fmt.Errorf("encoding transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status code %d from funds service", resp.StatusCode)
	}

	var payload receiptPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}

	return &Receipt{
		ID:        payload.ID,
		Kind:      payload.Kind,
		PartyID:   payload.PartyID,
		Amount:    payload.Amount,
		Reference: req.Reference,
		Reversed:  payload.Reversed,
		CreatedAt: payload.CreatedAt,
	}, nil
}

func (c *Client) Reverse(ctx context.Context, receiptID string) error {
	endpoint := fmt.Sprintf("%s/transfers/%s/reverse", c.baseURL, url.PathEscape(receiptID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	c.authorize(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status code %d reversing transfer %s", resp.StatusCode, receiptID)
	}

	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Token "+c.apiToken)
	}
}
