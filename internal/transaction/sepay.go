package transaction

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
	_ "time/tzdata"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/paymatch/internal/config"
	"go.uber.org/zap"
)

const (
	sepayListPath   = "/userapi/transactions/list"
	sepayDateLayout = "2006-01-02 15:04:05"
	maxResponseBody = 4 << 20
)

// SePayClient reads the SePay transaction feed.
type SePayClient struct {
	baseURL      string
	token        string
	limit        int
	location     *time.Location
	httpClient   *http.Client
	validate     *validator.Validate
	log          *zap.Logger
	buildBackoff func() backoff.BackOff
}

type SePayOption func(*SePayClient)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(client *http.Client) SePayOption {
	return func(c *SePayClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBackoff overrides the retry policy.
func WithBackoff(factory func() backoff.BackOff) SePayOption {
	return func(c *SePayClient) {
		if factory != nil {
			c.buildBackoff = factory
		}
	}
}

func NewSePayClient(cfg config.SePayConfig, log *zap.Logger, opts ...SePayOption) (*SePayClient, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loaded, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load sepay timezone %q: %w", tz, err)
		}
		loc = loaded
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := &SePayClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      strings.TrimSpace(cfg.APIToken),
		limit:      limit,
		location:   loc,
		httpClient: &http.Client{Timeout: timeout},
		validate:   validator.New(),
		log:        log.Named("transaction.sepay"),
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = timeout
			return b
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type sepayResponse struct {
	Status       int           `json:"status"`
	Error        any           `json:"error"`
	Transactions []sepayRecord `json:"transactions"`
}

// envelopeError reports an error carried inside a 2xx body. An absent status
// and a null, false or empty error field all mean success.
func (r sepayResponse) envelopeError() error {
	switch v := r.Error.(type) {
	case nil:
	case bool:
		if v {
			return errors.New("sepay error flag set")
		}
	case string:
		if strings.TrimSpace(v) != "" {
			return fmt.Errorf("sepay error %q", v)
		}
	case map[string]any:
		if len(v) > 0 {
			return fmt.Errorf("sepay error %v", v)
		}
	case []any:
		if len(v) > 0 {
			return fmt.Errorf("sepay error %v", v)
		}
	default:
		return fmt.Errorf("sepay error %v", v)
	}
	if r.Status != 0 && r.Status != http.StatusOK {
		return fmt.Errorf("sepay envelope status %d", r.Status)
	}
	return nil
}

type sepayRecord struct {
	ID                 flexString `json:"id" validate:"required"`
	TransactionDate    string     `json:"transaction_date" validate:"required"`
	AmountIn           flexString `json:"amount_in" validate:"required"`
	TransactionContent string     `json:"transaction_content"`
	AccountNumber      string     `json:"account_number"`
	ReferenceNumber    string     `json:"reference_number"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ListTransactions fetches the most recent transactions. Network errors, 429
// and 5xx responses are retried; other statuses fail immediately.
func (c *SePayClient) ListTransactions(ctx context.Context, opts ListOptions) ([]ExternalTransaction, error) {
	if c.baseURL == "" || c.token == "" {
		return nil, ErrSourceNotConfigured
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = c.limit
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if account := strings.TrimSpace(opts.AccountNumber); account != "" {
		query.Set("account_number", account)
	}
	endpoint := c.baseURL + sepayListPath + "?" + query.Encode()

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		payload, err := c.fetch(ctx, endpoint)
		if err != nil {
			c.log.Warn("sepay request failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		body = payload
		return nil
	}
	b := backoff.WithContext(c.buildBackoff(), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	var resp sepayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if err := resp.envelopeError(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	out := make([]ExternalTransaction, 0, len(resp.Transactions))
	for i, record := range resp.Transactions {
		tx, err := c.convert(record)
		if err != nil {
			c.log.Warn("dropping malformed transaction",
				zap.Int("index", i),
				zap.String("transaction_id", string(record.ID)),
				zap.Error(err),
			)
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (c *SePayClient) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("sepay status %d", res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("sepay status %d", res.StatusCode))
	}
	return payload, nil
}

func (c *SePayClient) convert(record sepayRecord) (ExternalTransaction, error) {
	if err := c.validate.Struct(record); err != nil {
		return ExternalTransaction{}, err
	}
	amount, err := parseMinorUnits(string(record.AmountIn))
	if err != nil {
		return ExternalTransaction{}, err
	}
	if amount <= 0 {
		return ExternalTransaction{}, errors.New("amount_in must be positive")
	}
	occurredAt, err := time.ParseInLocation(sepayDateLayout, strings.TrimSpace(record.TransactionDate), c.location)
	if err != nil {
		return ExternalTransaction{}, fmt.Errorf("parse transaction_date: %w", err)
	}
	return ExternalTransaction{
		ID:         string(record.ID),
		Amount:     amount,
		Memo:       record.TransactionContent,
		OccurredAt: occurredAt.UTC(),
	}, nil
}

// parseMinorUnits parses a decimal amount such as "99000.00" and rejects
// values with a non-zero fractional part.
func parseMinorUnits(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	whole, frac, _ := strings.Cut(raw, ".")
	if strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("amount %q is not integral", raw)
	}
	if whole == "" {
		return 0, fmt.Errorf("amount %q is empty", raw)
	}
	value, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return value, nil
}

var _ Source = (*SePayClient)(nil)
