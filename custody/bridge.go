// Package custody bridges ledger transfer legs to the external custody
// service holding the pool vault and collateral tokens. The bridge only
// enqueues transfers; outcomes are delivered back asynchronously through the
// transfer resolution RPC, keyed by receipt identifier.
package custody

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"pawnpool/crypto"
)

// Config controls how the Bridge connects to the custody service.
type Config struct {
	BaseURL            string
	BearerToken        string
	SharedSecretHeader string
	SharedSecretValue  string
	TLSClientCAFile    string
	AllowInsecure      bool
	Timeout            time.Duration
}

// Bridge submits value and token movements to the custody service over HTTP.
type Bridge struct {
	baseURL      string
	http         *http.Client
	bearer       string
	sharedHeader string
	sharedValue  string
}

// NewBridge constructs a Bridge from the provided configuration.
func NewBridge(cfg Config) (*Bridge, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("custody: base url is required")
	}

	tlsConfig := &tls.Config{}
	if cfg.AllowInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("custody: load system cert pool: %w", err)
		}
		if systemPool == nil {
			systemPool = x509.NewCertPool()
		}
		if strings.TrimSpace(cfg.TLSClientCAFile) != "" {
			pemBytes, err := os.ReadFile(cfg.TLSClientCAFile)
			if err != nil {
				return nil, fmt.Errorf("custody: read ca file: %w", err)
			}
			if ok := systemPool.AppendCertsFromPEM(pemBytes); !ok {
				return nil, fmt.Errorf("custody: append ca certificates: invalid pem data")
			}
		}
		tlsConfig.RootCAs = systemPool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Bridge{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: timeout, Transport: &http.Transport{TLSClientConfig: tlsConfig}},
		bearer:       strings.TrimSpace(cfg.BearerToken),
		sharedHeader: strings.TrimSpace(cfg.SharedSecretHeader),
		sharedValue:  strings.TrimSpace(cfg.SharedSecretValue),
	}, nil
}

type transferRequest struct {
	ReceiptID string `json:"receiptId"`
	Type      string `json:"type"`
	To        string `json:"to"`
	Amount    string `json:"amount,omitempty"`
	Contract  string `json:"contract,omitempty"`
	TokenID   string `json:"tokenId,omitempty"`
}

type transferResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// SendValue enqueues a fungible value transfer to the recipient.
func (b *Bridge) SendValue(ctx context.Context, receiptID string, to crypto.Address, amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("custody: amount is required")
	}
	return b.submit(ctx, transferRequest{
		ReceiptID: receiptID,
		Type:      "value",
		To:        to.String(),
		Amount:    amount.String(),
	})
}

// SendToken enqueues a collateral token transfer to the recipient.
func (b *Bridge) SendToken(ctx context.Context, receiptID string, contract crypto.Address, tokenID string, to crypto.Address) error {
	return b.submit(ctx, transferRequest{
		ReceiptID: receiptID,
		Type:      "token",
		To:        to.String(),
		Contract:  contract.String(),
		TokenID:   tokenID,
	})
}

func (b *Bridge) submit(ctx context.Context, req transferRequest) error {
	if b == nil || b.http == nil {
		return fmt.Errorf("custody: bridge not configured")
	}
	if strings.TrimSpace(req.ReceiptID) == "" {
		return fmt.Errorf("custody: receipt id is required")
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return fmt.Errorf("custody: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/transfers", &buf)
	if err != nil {
		return fmt.Errorf("custody: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Client", "pawnd")
	if b.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.bearer)
	}
	if b.sharedHeader != "" && b.sharedValue != "" {
		httpReq.Header.Set(b.sharedHeader, b.sharedValue)
	}

	resp, err := b.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("custody: submit transfer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("custody: transfer rejected with status %s", resp.Status)
	}
	var decoded transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("custody: decode response: %w", err)
	}
	if !decoded.Accepted {
		reason := decoded.Reason
		if reason == "" {
			reason = "unspecified"
		}
		return fmt.Errorf("custody: transfer not accepted: %s", reason)
	}
	return nil
}
