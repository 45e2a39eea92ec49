package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// DefaultMeasurementURL is the GA4 Measurement Protocol endpoint.
const DefaultMeasurementURL = "https://www.google-analytics.com/mp/collect"

// Sink receives purchase events.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// LogSink writes events to a logger.
type LogSink struct {
	Logger logging.Logger
}

func (s LogSink) Send(ctx context.Context, ev Event) error {
	logging.OrNop(s.Logger).Info("purchase",
		logging.String("transaction_id", ev.Ecommerce.TransactionID),
		logging.Int("value", ev.Ecommerce.Value),
		logging.String("currency", ev.Ecommerce.Currency),
		logging.Any("items", ev.Ecommerce.Items),
	)
	return nil
}

// MeasurementSink posts events through the GA4 Measurement Protocol.
type MeasurementSink struct {
	URL           string
	MeasurementID string
	APISecret     string
	HTTPClient    *http.Client
}

type mpEvent struct {
	Name   string    `json:"name"`
	Params Ecommerce `json:"params"`
}

type mpPayload struct {
	ClientID string    `json:"client_id"`
	Events   []mpEvent `json:"events"`
}

func (s *MeasurementSink) Send(ctx context.Context, ev Event) error {
	base := s.URL
	if base == "" {
		base = DefaultMeasurementURL
	}
	endpoint := base + "?" + url.Values{
		"measurement_id": {s.MeasurementID},
		"api_secret":     {s.APISecret},
	}.Encode()

	body, err := json.Marshal(mpPayload{
		ClientID: uuid.NewString(),
		Events:   []mpEvent{{Name: ev.Event, Params: ev.Ecommerce}},
	})
	if err != nil {
		return fmt.Errorf("encode purchase: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send purchase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send purchase: status %d", resp.StatusCode)
	}
	return nil
}
