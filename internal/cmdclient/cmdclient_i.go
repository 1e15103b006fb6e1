package cmdclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"scmap/internal/cmdreceiver"
	ilog "scmap/internal/log"
)

const (
	DefaultCommandPath = "/v1/cmd/maps"
	DefaultAuthHeader  = cmdreceiver.AuthHeader
)

// Connector posts map commands to a running service.
type Connector struct {
	baseURL    *url.URL
	client     *http.Client
	authHeader string
	authKey    string
}

type ParsedResponse struct {
	StatusCode int
	Headers    map[string][]string
	RawBody    string
	Body       cmdreceiver.MapCommandResponse
}

func NewConnector(baseURL string, timeout time.Duration) (*Connector, error) {
	return NewConnectorWithAuth(baseURL, timeout, DefaultAuthHeader, "")
}

func NewConnectorWithAuth(baseURL string, timeout time.Duration, authHeader string, authKey string) (*Connector, error) {
	normalized := strings.TrimSpace(baseURL)
	if normalized == "" {
		return nil, fmt.Errorf("command base url is required")
	}
	if !strings.Contains(normalized, "://") {
		normalized = "http://" + normalized
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid command url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid command url, need scheme and host: %s", normalized)
	}
	// listen addresses like ":8080" carry no host
	if strings.HasPrefix(u.Host, ":") {
		u.Host = "127.0.0.1" + u.Host
	}

	clientTimeout := timeout
	if clientTimeout <= 0 {
		clientTimeout = 10 * time.Minute
	}

	header := strings.TrimSpace(authHeader)
	if header == "" {
		header = DefaultAuthHeader
	}

	return &Connector{
		baseURL: u,
		client: &http.Client{
			Timeout: clientTimeout,
			Transport: &http.Transport{
				Proxy: nil,
			},
		},
		authHeader: header,
		authKey:    strings.TrimSpace(authKey),
	}, nil
}

// Execute sends one command. Non-2xx answers are returned as errors carrying
// the service's message.
func (c *Connector) Execute(ctx context.Context, req cmdreceiver.MapCommandRequest) (ParsedResponse, error) {
	logger := ilog.Component("main")
	if strings.TrimSpace(req.Action) == "" {
		return ParsedResponse{}, fmt.Errorf("action is required")
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: DefaultCommandPath})
	form := url.Values{}
	form.Set("action", req.Action)
	for k, v := range map[string]string{
		"ids":        req.IDs,
		"hash":       req.Hash,
		"user_id":    req.UserID,
		"path":       req.Path,
		"extension":  req.Extension,
		"visibility": req.Visibility,
		"limit":      req.Limit,
		"confirm":    req.Confirm,
	} {
		if v != "" {
			form.Set(k, v)
		}
	}

	logger.Infof("sending map command action=%s to %s", req.Action, endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return ParsedResponse{}, fmt.Errorf("build command request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.authKey != "" {
		httpReq.Header.Set(c.authHeader, c.authKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ParsedResponse{}, fmt.Errorf("command request failed: %w", err)
	}
	defer resp.Body.Close()

	parsed, err := ParseHTTPResponse(resp)
	if err != nil {
		return ParsedResponse{}, err
	}
	logger.Infof("map command response status=%d result=%s", parsed.StatusCode, parsed.Body.Status)
	if parsed.StatusCode < 200 || parsed.StatusCode > 299 {
		msg := parsed.Body.Message
		if msg == "" {
			msg = strings.TrimSpace(parsed.RawBody)
		}
		return parsed, fmt.Errorf("map command %s failed (%d): %s", req.Action, parsed.StatusCode, msg)
	}
	return parsed, nil
}

func ParseHTTPResponse(resp *http.Response) (ParsedResponse, error) {
	if resp == nil {
		return ParsedResponse{}, fmt.Errorf("nil http response")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ParsedResponse{}, fmt.Errorf("read response body failed: %w", err)
	}

	out := ParsedResponse{
		StatusCode: resp.StatusCode,
		Headers:    cloneHeader(resp.Header),
		RawBody:    string(body),
	}
	// plain-text bodies (proxies, panics) are kept raw
	_ = json.Unmarshal(body, &out.Body)
	return out, nil
}

func cloneHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
