// Package novaposhta implements integrations.ShipmentSource over the Nova
// Poshta JSON API v2.0.
package novaposhta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"parcelwatch/internal/buildinfo"
	"parcelwatch/internal/integrations"
)

const (
	DefaultBaseURL = "https://api.novaposhta.ua"
	DefaultTimeout = 15 * time.Second

	dateLayout = "02.01.2006 15:04:05"
)

var tracer = otel.Tracer("parcelwatch/novaposhta")

type Client struct {
	apiKey  string
	baseURL string
	session *http.Client
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.session = h
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.session.Timeout = d
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		session: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "novaposhta" }

func (c *Client) ValidateCredentials(ctx context.Context) error {
	_, err := c.call(ctx, "Common", "getCargoTypes", map[string]string{})
	return err
}

func (c *Client) IncomingByPhone(ctx context.Context, q integrations.Query) (integrations.Page, error) {
	props := map[string]string{
		"DateFrom": q.DateFrom.Format(dateLayout),
		"DateTo":   q.DateTo.Format(dateLayout),
	}
	if q.Limit > 0 {
		props["Limit"] = strconv.Itoa(q.Limit)
	}
	if q.Page > 0 {
		props["Page"] = strconv.Itoa(q.Page)
	}
	const op = "InternetDocument.getIncomingDocumentsByPhone"
	data, err := c.call(ctx, "InternetDocument", "getIncomingDocumentsByPhone", props)
	if err != nil {
		return integrations.Page{}, err
	}
	docs, err := decodeIncoming(data)
	if err != nil {
		return integrations.Page{}, integrations.Application(op, err)
	}
	page := integrations.Page{}
	for _, d := range docs {
		page.Parcels = append(page.Parcels, d.toParcel())
	}
	return page, nil
}

// Close drops idle keep-alive connections.
func (c *Client) Close() error {
	c.session.CloseIdleConnections()
	return nil
}

type request struct {
	APIKey           string            `json:"apiKey"`
	ModelName        string            `json:"modelName"`
	CalledMethod     string            `json:"calledMethod"`
	MethodProperties map[string]string `json:"methodProperties"`
}

type response struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Errors     []string        `json:"errors"`
	Warnings   []string        `json:"warnings"`
	ErrorCodes []string        `json:"errorCodes"`
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

// call performs one API method and classifies the outcome. It never retries.
func (c *Client) call(ctx context.Context, modelName, method string, props map[string]string) (data json.RawMessage, err error) {
	op := modelName + "." + method
	ctx, span := tracer.Start(ctx, "novaposhta."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("novaposhta.model", modelName)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(request{APIKey: c.apiKey, ModelName: modelName, CalledMethod: method, MethodProperties: props})
	if err != nil {
		return nil, integrations.Application(op, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2.0/json/", bytes.NewReader(body))
	if err != nil {
		return nil, integrations.Transport(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	resp, err := c.session.Do(req)
	if err != nil {
		return nil, integrations.Transport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, integrations.Transport(op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, integrations.Auth(op, &httpStatusError{Code: resp.StatusCode, Body: snippet(raw)})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, integrations.Transport(op, &httpStatusError{Code: resp.StatusCode, Body: snippet(raw)})
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, integrations.Transport(op, fmt.Errorf("decode response: %w", err))
	}
	if !out.Success {
		apiErr := errors.New(strings.Join(out.Errors, "; "))
		if len(out.Errors) == 0 {
			apiErr = errors.New("request was not successful")
		}
		if isAuthFailure(out.Errors) {
			return nil, integrations.Auth(op, apiErr)
		}
		return nil, integrations.Application(op, apiErr)
	}
	return out.Data, nil
}

func isAuthFailure(msgs []string) bool {
	for _, m := range msgs {
		l := strings.ToLower(m)
		if strings.Contains(l, "api key") || strings.Contains(l, "api auth") {
			return true
		}
	}
	return false
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
