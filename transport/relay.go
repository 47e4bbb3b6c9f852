package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/model"
)

// RelayDriver posts raw command bytes to a network print relay
type RelayDriver struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewRelayDriver creates a relay driver for url; an empty url selects
// model.DefaultLocalPrinterURL and a nil client a client with DefaultRelayTimeout.
func NewRelayDriver(url string, client *http.Client, logger zerolog.Logger) *RelayDriver {
	if url == "" {
		url = model.DefaultLocalPrinterURL
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultRelayTimeout}
	}
	return &RelayDriver{url: url, client: client, logger: logger}
}

// Name returns the transport name
func (r *RelayDriver) Name() string { return NameRelay }

// URL returns the relay address
func (r *RelayDriver) URL() string { return r.url }

// Send posts the decoded bytes verbatim as application/octet-stream
func (r *RelayDriver) Send(ctx context.Context, payload string) (Outcome, error) {
	raw, err := decodePayload(NameRelay, payload)
	if err != nil {
		return Outcome{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(raw))
	if err != nil {
		return Outcome{}, Errorf(KindConnection, NameRelay, "invalid relay address %q: %w", r.url, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return Outcome{}, Errorf(KindConnection, NameRelay, "could not reach print relay at %s: %w", r.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{}, Errorf(KindTransfer, NameRelay, "Error %s", resp.Status)
	}

	r.logger.Debug().Str("url", r.url).Int("bytes", len(raw)).Msg("ticket relayed")
	return Outcome{Success: true, Message: fmt.Sprintf("Ticket sent to %s", r.url)}, nil
}
