package queryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"stratsync-chat/internal/domain"
)

const (
	DefaultBaseURL = "https://dev-api.stratsync.ai"

	processQueryPath    = "/process_user_query/"
	generateSummaryPath = "/generate_summary/"
	generateOfferPath   = "/generate_offer/"

	maxErrorBody    = 4096
	maxResponseBody = 4 << 20
)

// queryRequest is the request shape for the process_user_query endpoint.
type queryRequest struct {
	Query string `json:"query"`
}

// dataRequest is the request shape shared by the summary and offer endpoints.
type dataRequest struct {
	Query string `json:"query"`
	Data  string `json:"data"`
}

// ErrResponseTooLarge is returned for successful responses whose body exceeds
// the 4 MiB read limit.
var ErrResponseTooLarge = errors.New("response exceeds 4 MiB")

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("queryapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// ResponseBody is the (truncated) body the service sent with the status.
func (e *HTTPStatusError) ResponseBody() string {
	return e.Body
}

// Client calls the query service endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client

	getter    Getter
	tokenName string
	tokenMu   sync.Mutex
	token     string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken makes the client send a bearer token read from the parameter
// store. The parameter holds JSON of the form {"token":"..."}. It is fetched
// on first use and cached; a failed fetch is retried by the next request.
func WithToken(g Getter, parameterName string) Option {
	return func(c *Client) {
		c.getter = g
		c.tokenName = strings.TrimSpace(parameterName)
	}
}

// NewClient creates a Client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("queryapi: base URL must not be empty")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("queryapi: base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.getter != nil && c.tokenName == "" {
		return nil, errors.New("queryapi: token parameter name must not be empty")
	}
	return c, nil
}

// ProcessQuery sends a natural-language query.
func (c *Client) ProcessQuery(ctx context.Context, query string) (domain.RawResponse, error) {
	return c.post(ctx, processQueryPath, queryRequest{Query: query})
}

// GenerateSummary asks the service to render data as an HTML report.
func (c *Client) GenerateSummary(ctx context.Context, query, data string) (domain.RawResponse, error) {
	return c.post(ctx, generateSummaryPath, dataRequest{Query: query, Data: data})
}

// GenerateOffer asks the service to build an offer table for data.
func (c *Client) GenerateOffer(ctx context.Context, query, data string) (domain.RawResponse, error) {
	return c.post(ctx, generateOfferPath, dataRequest{Query: query, Data: data})
}

func (c *Client) post(ctx context.Context, path string, payload any) (domain.RawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("queryapi: marshal request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("queryapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.resolveToken(ctx)
	if err != nil {
		return domain.RawResponse{}, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.do(req, url)
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("queryapi: request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if c.getter == nil {
		return "", nil
	}
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchTokenFromParamStore(ctx, c.getter, c.tokenName)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *Client) do(req *http.Request, url string) (domain.RawResponse, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return domain.RawResponse{}, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return domain.RawResponse{}, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody+1))
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("read response body: %w", err)
	}
	if len(buf) > maxResponseBody {
		return domain.RawResponse{}, ErrResponseTooLarge
	}
	return domain.RawResponse{Body: buf, ContentType: res.Header.Get("Content-Type")}, nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("queryapi: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("queryapi: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("queryapi: API token is empty")
	}
	return tp.Token, nil
}
