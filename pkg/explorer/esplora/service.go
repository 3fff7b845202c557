package esplora

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/satcat21/btc-mempaper-sub000/pkg/explorer"
	"github.com/satcat21/btc-mempaper-sub000/pkg/httputil"
)

type esplora struct {
	apiURL string
	client *httputil.Client
}

// NewService returns a new esplora service as an explorer.Service interface.
func NewService(apiURL string, requestTimeout time.Duration) (explorer.Service, error) {
	service := &esplora{
		apiURL: apiURL,
		client: httputil.NewClient(requestTimeout),
	}

	if err := service.healthCheck(); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}

	return service, nil
}

func (e *esplora) healthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), httputil.DefaultTimeout)
	defer cancel()

	_, err := e.GetBlockHeight(ctx)
	return err
}

func (e *esplora) GetAddressStats(
	ctx context.Context, address string,
) (*explorer.AddressStats, error) {
	url := fmt.Sprintf("%s/address/%s", e.apiURL, address)
	status, resp, err := e.client.Get(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error on retrieving address stats: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("address stats endpoint: %s", resp)
	}

	return NewAddressStatsFromJSON(resp)
}

func (e *esplora) GetBlockHeight(ctx context.Context) (int, error) {
	url := fmt.Sprintf("%s/blocks/tip/height", e.apiURL)
	status, resp, err := e.client.Get(ctx, url, nil)
	if err != nil {
		return -1, fmt.Errorf("error on retrieving block height: %w", err)
	}
	if status != http.StatusOK {
		return -1, fmt.Errorf("block height endpoint: %s", resp)
	}

	height, err := strconv.Atoi(resp)
	if err != nil {
		return -1, fmt.Errorf("invalid block height response: %s", resp)
	}
	return height, nil
}
