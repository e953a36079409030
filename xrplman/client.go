package xrplman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

// Client speaks the rippled JSON-RPC protocol over HTTP with ordered
// endpoint failover. The pack carries no XRPL SDK, so the wire format is
// spelled out here the same way btcman wraps its node RPC.
type Client struct {
	urls []string
	http *http.Client
}

func NewClient(urls []string) *Client {
	return &Client{urls: urls, http: &http.Client{}}
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Call posts one JSON-RPC request, trying each endpoint in order, and
// decodes the "result" object into out.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}})
	if err != nil {
		return err
	}

	var lastErr error
	for i, url := range c.urls {
		if err := c.post(ctx, url, body, out); err != nil {
			logger.WithFields(logger.Fields{
				"method":   method,
				"endpoint": i,
			}).Warnf("xrpl rpc call failed, trying next endpoint: %v", err)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%s failed on all %d endpoints: %v", method, len(c.urls), lastErr)
}

func (c *Client) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Result, out)
}
