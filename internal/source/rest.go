package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type restClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func newRESTClient(baseURL string, timeout time.Duration, log *zap.Logger) *restClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &restClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, headers map[string]string) (any, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var data any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// rawList pulls a list of raw order maps out of a decoded payload, trying
// the given wrapper keys before treating the payload as a bare array.
func rawList(payload any, keys ...string) []RawOrder {
	if payload == nil {
		return nil
	}
	if list, ok := payload.([]any); ok {
		return toRawOrders(list)
	}
	if payloadMap, ok := payload.(map[string]any); ok {
		for _, key := range keys {
			if list, ok := payloadMap[key].([]any); ok {
				return toRawOrders(list)
			}
		}
	}
	return nil
}

func toRawOrders(list []any) []RawOrder {
	if len(list) == 0 {
		return nil
	}
	orders := make([]RawOrder, 0, len(list))
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			orders = append(orders, RawOrder(entry))
		}
	}
	return orders
}
