package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"spadesk/internal/events"
)

// WebhookClient posts invoice and housekeeping requests to an external HTTP service.
type WebhookClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	redis    *redis.Client
	dedupTTL time.Duration
}

var (
	_ Invoicer    = (*WebhookClient)(nil)
	_ Housekeeper = (*WebhookClient)(nil)
)

// NewWebhookClient constructs a client with baseURL and API key.
func NewWebhookClient(baseURL, apiKey string) *WebhookClient {
	return &WebhookClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisDedup makes the client remember delivered event ids for ttl so a
// redelivered event is not posted twice.
func (c *WebhookClient) UseRedisDedup(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.dedupTTL = ttl
}

// CreateInvoice posts to /invoices.
func (c *WebhookClient) CreateInvoice(ctx context.Context, eventID string, p events.InvoicePayload) error {
	return c.deliver(ctx, "/invoices", eventID, p)
}

// CreateHousekeepingTask posts to /housekeeping/tasks.
func (c *WebhookClient) CreateHousekeepingTask(ctx context.Context, eventID string, p events.HousekeepingPayload) error {
	return c.deliver(ctx, "/housekeeping/tasks", eventID, p)
}

func (c *WebhookClient) deliver(ctx context.Context, path, eventID string, body any) error {
	key := "spadesk:delivered:" + eventID
	if c.delivered(ctx, key) {
		return nil
	}
	if err := c.doPost(ctx, c.baseURL+path, eventID, body); err != nil {
		return err
	}
	c.markDelivered(ctx, key)
	return nil
}

func (c *WebhookClient) delivered(ctx context.Context, key string) bool {
	if c.redis == nil || c.dedupTTL <= 0 {
		return false
	}
	n, err := c.redis.Exists(ctx, key).Result()
	return err == nil && n > 0
}

func (c *WebhookClient) markDelivered(ctx context.Context, key string) {
	if c.redis == nil || c.dedupTTL <= 0 {
		return
	}
	_ = c.redis.Set(ctx, key, "1", c.dedupTTL).Err()
}

func (c *WebhookClient) doPost(ctx context.Context, endpoint, idempotencyKey string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: http %d", endpoint, resp.StatusCode)
	}
	return nil
}
