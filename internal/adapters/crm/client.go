// Package crm talks to the HubSpot CRM: it resolves deal metadata and writes
// the survey flag back.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/pkg/logger"
	"github.com/okian/encuesta/pkg/metrics"
)

const (
	opGetDeal      = "get_deal"
	opAssociations = "get_associations"
	opPublish      = "publish"

	maxErrorBody = 512
)

// Flag values written to the CRM.
const (
	FlagEligible    = "SI"
	FlagNotEligible = "NO"
)

// Client is a HubSpot CRM client.
type Client struct {
	baseURL       string
	token         string
	conceptProp   string
	closeDateProp string
	flagProp      string
	http          *http.Client
	limiter       *rate.Limiter
	log           logger.Logger
}

// NewClient creates a Client for baseURL, e.g. https://api.hubapi.com.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		conceptProp:   "concepto",
		closeDateProp: "closedate",
		flagProp:      "enviar_encuesta",
		http:          &http.Client{Timeout: 10 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(10), 10),
		log:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type dealResponse struct {
	ID         string             `json:"id"`
	Properties map[string]*string `json:"properties"`
}

type associationsResponse struct {
	Results []struct {
		ToObjectID json.Number `json:"toObjectId"`
	} `json:"results"`
}

// Resolve fetches concept, close date and first associated contact of a deal.
// A deal the CRM does not know yields an error wrapping model.ErrNotFound.
func (c *Client) Resolve(ctx context.Context, entityID string) (model.DealMetadata, error) {
	var meta model.DealMetadata

	q := url.Values{}
	q.Set("properties", c.conceptProp+","+c.closeDateProp)
	dealURL := fmt.Sprintf("%s/crm/v3/objects/deals/%s?%s", c.baseURL, url.PathEscape(entityID), q.Encode())

	var deal dealResponse
	if err := c.do(ctx, opGetDeal, http.MethodGet, dealURL, nil, &deal); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return meta, fmt.Errorf("%w: deal %s", model.ErrNotFound, entityID)
		}
		return meta, err
	}
	meta.Concept = strings.TrimSpace(deref(deal.Properties[c.conceptProp]))
	meta.CloseDate = ParseCloseDate(deref(deal.Properties[c.closeDateProp]))

	assocURL := fmt.Sprintf("%s/crm/v4/objects/deals/%s/associations/contacts", c.baseURL, url.PathEscape(entityID))
	var assoc associationsResponse
	if err := c.do(ctx, opAssociations, http.MethodGet, assocURL, nil, &assoc); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return meta, nil
		}
		return meta, err
	}
	if len(assoc.Results) > 0 {
		meta.ContactID = assoc.Results[0].ToObjectID.String()
	}
	return meta, nil
}

// Publish writes the survey flag of a deal.
func (c *Client) Publish(ctx context.Context, entityID string, eligible bool) error {
	value := FlagNotEligible
	if eligible {
		value = FlagEligible
	}
	body := map[string]map[string]string{
		"properties": {c.flagProp: value},
	}
	dealURL := fmt.Sprintf("%s/crm/v3/objects/deals/%s", c.baseURL, url.PathEscape(entityID))
	return c.do(ctx, opPublish, http.MethodPatch, dealURL, body, nil)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordCRMRequest(op, outcome(err), float64(time.Since(start).Milliseconds()))
	}()

	if err = c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("crm %s: throttle: %w", op, err)
	}

	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("crm %s: encode: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("crm %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn(ctx, "crm request failed",
			logger.String("op", op),
			logger.String("method", method),
			logger.Error(err),
		)
		return fmt.Errorf("crm %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		fields := []logger.Field{
			logger.String("op", op),
			logger.String("method", method),
			logger.Int("status", resp.StatusCode),
			logger.String("body", se.Body),
		}
		// A missing deal is an expected answer, not a CRM fault.
		if resp.StatusCode == http.StatusNotFound {
			c.log.Debug(ctx, "crm answered not found", fields...)
		} else {
			c.log.Warn(ctx, "crm answered with an error status", fields...)
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("crm %s: decode: %w", op, err)
	}
	return nil
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		return "not_found"
	case errors.As(err, &se) && se.Code == http.StatusTooManyRequests:
		return "rate_limited"
	case errors.As(err, &se):
		return "http_error"
	default:
		return "transport_error"
	}
}

// ParseCloseDate accepts RFC3339 timestamps, plain dates and epoch
// milliseconds. Anything else yields the zero time. A plain date comes back
// as a calendar day (see model.ParseDay).
func ParseCloseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	if t, err := model.ParseDay(raw); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
