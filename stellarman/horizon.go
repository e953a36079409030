package stellarman

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	logger "github.com/sirupsen/logrus"
)

// horizonClient is a thin REST reader over Horizon with ordered endpoint
// failover. No Stellar SDK ships in this stack; the adapter only ever
// reads account state and payment history, which plain HTTP covers.
type horizonClient struct {
	urls []string
	http *http.Client
}

func newHorizonClient(urls []string) *horizonClient {
	return &horizonClient{urls: urls, http: &http.Client{}}
}

type horizonAccount struct {
	ID      string `json:"id"`
	Signers []struct {
		Key    string `json:"key"`
		Weight int    `json:"weight"`
	} `json:"signers"`
	Thresholds struct {
		MedThreshold  int `json:"med_threshold"`
		HighThreshold int `json:"high_threshold"`
	} `json:"thresholds"`
}

type horizonPayment struct {
	TransactionHash string `json:"transaction_hash"`
	Type            string `json:"type"`
	From            string `json:"from"`
	To              string `json:"to"`
	AssetType       string `json:"asset_type"`
	Amount          string `json:"amount"`
}

type horizonTransaction struct {
	Hash       string `json:"hash"`
	Successful bool   `json:"successful"`
	Ledger     int64  `json:"ledger"`
}

func (c *horizonClient) get(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for i, base := range c.urls {
		if err := c.getOne(ctx, base+path, out); err != nil {
			logger.WithFields(logger.Fields{
				"path":     path,
				"endpoint": i,
			}).Warnf("horizon call failed, trying next endpoint: %v", err)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("GET %s failed on all %d endpoints: %v", path, len(c.urls), lastErr)
}

func (c *horizonClient) getOne(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errNotFound = fmt.Errorf("horizon: not found")

func (c *horizonClient) Account(ctx context.Context, id string) (*horizonAccount, error) {
	var acc horizonAccount
	if err := c.get(ctx, "/accounts/"+id, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (c *horizonClient) Payments(ctx context.Context, account string) ([]horizonPayment, error) {
	var page struct {
		Embedded struct {
			Records []horizonPayment `json:"records"`
		} `json:"_embedded"`
	}
	if err := c.get(ctx, "/accounts/"+account+"/payments?order=desc&limit=50", &page); err != nil {
		return nil, err
	}
	return page.Embedded.Records, nil
}

func (c *horizonClient) Transaction(ctx context.Context, hash string) (*horizonTransaction, error) {
	var tx horizonTransaction
	if err := c.get(ctx, "/transactions/"+hash, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
