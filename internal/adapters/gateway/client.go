// Package gateway is the HTTP transport to the media gateway's REST API.
package gateway

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

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRequestTimeout  = 3 * time.Second
	DefaultLongPollTimeout = 60 * time.Second

	maxResponseSize = 4 << 20
)

// Client implements core.Gateway over HTTP. Ordinary requests and the
// long poll use separate http.Clients so that only the poll gets the long
// read timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pollClient *http.Client
	logger     zerolog.Logger
}

// New returns a client for the gateway rooted at baseURL, e.g.
// "http://127.0.0.1:8088/janus".
func New(baseURL string, requestTimeout, longPollTimeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q", u.Scheme)
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if longPollTimeout <= 0 {
		longPollTimeout = DefaultLongPollTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		pollClient: &http.Client{Timeout: longPollTimeout},
		logger:     log.With().Str("module", "adapters.gateway").Logger(),
	}, nil
}

func (c *Client) Info(ctx context.Context) (*protocol.ServerInfo, error) {
	body, err := c.doRequest(ctx, c.httpClient, http.MethodGet, "/info", nil, nil)
	if err != nil {
		return nil, err
	}
	var info protocol.ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("gateway: failed to decode server info: %w", err)
	}
	if info.Janus != protocol.KindServerInfo {
		return nil, fmt.Errorf("gateway: unexpected info reply %q", info.Janus)
	}
	return &info, nil
}

func (c *Client) Send(ctx context.Context, req *protocol.Request) (*protocol.Frame, error) {
	body, err := c.doRequest(ctx, c.httpClient, http.MethodPost, requestPath(req), req, nil)
	if err != nil {
		return nil, err
	}
	f, err := protocol.DecodeFrame(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s reply: %w", req.Janus, err)
	}
	c.logger.Debug().Str("janus", req.Janus).Str("txn", req.Transaction).Str("reply", f.Janus).Msg("request")
	return f, nil
}

// Poll waits for at most one event on the session's long-poll channel.
func (c *Client) Poll(ctx context.Context, session domain.SessionID) ([]byte, error) {
	query := url.Values{}
	query.Set("maxev", "1")
	query.Set("rid", strconv.FormatInt(time.Now().UnixMilli(), 10))
	return c.doRequest(ctx, c.pollClient, http.MethodGet, "/"+session.String(), nil, query)
}

func requestPath(req *protocol.Request) string {
	switch {
	case req.SessionID == 0:
		return ""
	case req.HandleID == 0:
		return "/" + req.SessionID.String()
	default:
		return "/" + req.SessionID.String() + "/" + req.HandleID.String()
	}
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if query != nil {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("gateway: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := hc.Do(request)
	if err != nil {
		return nil, fmt.Errorf("gateway: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to read response body: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var errFrame protocol.Frame
	if jsonErr := json.Unmarshal(responseBody, &errFrame); jsonErr == nil && errFrame.Error != nil {
		return nil, errFrame.Error
	}
	return nil, &StatusError{Method: method, Path: path, StatusCode: response.StatusCode, Body: string(responseBody)}
}

// StatusError is a non-2xx reply without a gateway error body.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: unexpected %d response from %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == code
	}
	return false
}
