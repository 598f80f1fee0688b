// Package esplora implements the chain oracle port on top of an
// esplora-style HTTP block explorer (electrs, blockstream.info). The
// daemon never parses blocks itself; height and transaction visibility
// are read from the explorer's REST endpoints.
package esplora

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

const requestTimeout = 30 * time.Second

type service struct {
	apiURL string
	client *http.Client
}

// NewChainOracle returns a chain oracle backed by the explorer reachable
// at apiURL. It fails if the explorer does not answer the tip-height
// endpoint.
func NewChainOracle(apiURL string) (ports.ChainOracle, error) {
	svc := &service{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: &http.Client{Timeout: requestTimeout},
	}
	if _, err := svc.BestChainHeight(context.Background()); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return svc, nil
}

func (s *service) BestChainHeight(ctx context.Context) (uint32, error) {
	status, resp, err := s.get(ctx, fmt.Sprintf("%s/blocks/tip/height", s.apiURL))
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("explorer: %s", resp)
	}
	height, err := strconv.ParseUint(strings.TrimSpace(resp), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing tip height: %w", err)
	}
	return uint32(height), nil
}

func (s *service) GetTransactionStatus(
	ctx context.Context, txId string,
) (ports.TxStatus, error) {
	status, resp, err := s.get(ctx, fmt.Sprintf("%s/tx/%s/status", s.apiURL, txId))
	if err != nil {
		return ports.TxStatus{}, err
	}
	if status == http.StatusNotFound {
		return ports.TxStatus{}, nil
	}
	if status != http.StatusOK {
		return ports.TxStatus{}, fmt.Errorf("explorer: %s", resp)
	}

	confirmed := parseConfirmed(resp)
	txHex, err := s.getTransactionHex(ctx, txId)
	if err != nil {
		return ports.TxStatus{}, err
	}
	return ports.TxStatus{Found: true, Confirmed: confirmed, TxHex: txHex}, nil
}

func (s *service) GetTransactionsForAddress(
	ctx context.Context, address string,
) ([]ports.AddressTx, error) {
	status, resp, err := s.get(ctx, fmt.Sprintf("%s/address/%s/txs", s.apiURL, address))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("explorer: %s", resp)
	}
	return parseAddressTxs(resp)
}

func (s *service) getTransactionHex(ctx context.Context, txId string) (string, error) {
	status, resp, err := s.get(ctx, fmt.Sprintf("%s/tx/%s/hex", s.apiURL, txId))
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("explorer: %s", resp)
	}
	return strings.TrimSpace(resp), nil
}

func (s *service) get(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, "", err
	}
	return res.StatusCode, string(body), nil
}
