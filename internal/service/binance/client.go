package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/romnatson3/copy-trade/internal/config"
	"github.com/romnatson3/copy-trade/internal/entity"
)

const (
	usedWeightHeader   = "X-Mbx-Used-Weight-1m"
	defaultHTTPTimeout = 10 * time.Second
)

// Credentials bind a client to one exchange account. Proxy, when set, routes
// every call through the account's own outbound endpoint so followers do not
// share a source address.
type Credentials struct {
	APIKey    string
	APISecret string
	Proxy     string
}

// Client is a minimal signed REST client for the USD-M futures API. One client
// per account; it is safe for concurrent use.
type Client struct {
	baseURL    string
	creds      Credentials
	recvWindow int64
	httpClient *http.Client
}

func NewClient(cfg config.BinanceConfig, creds Credentials, testnet bool) (*Client, error) {
	baseURL := cfg.RestBaseURL
	if testnet {
		baseURL = cfg.RestTestnetBaseURL
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("binance rest base url is required")
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if creds.Proxy != "" {
		proxyURL, err := url.Parse(creds.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		recvWindow: cfg.RecvWindow,
		httpClient: httpClient,
	}, nil
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedRequest sends an authenticated call. The timestamp, recvWindow and
// HMAC signature are appended to the caller's params; the response headers are
// returned for rate-limit inspection.
func (c *Client) SignedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, http.Header, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	if c.recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}

	payload := params.Encode()
	payload = payload + "&signature=" + c.sign(payload)

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		endpoint = endpoint + "?" + payload
	} else {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	return c.do(req)
}

// PublicRequest sends an unauthenticated call.
func (c *Client) PublicRequest(ctx context.Context, path string, params url.Values) ([]byte, http.Header, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		exchangeErr := &entity.ExchangeError{}
		if err := json.Unmarshal(raw, exchangeErr); err != nil || exchangeErr.Message == "" {
			exchangeErr.Code = int64(resp.StatusCode)
			exchangeErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, resp.Header, exchangeErr
	}

	return raw, resp.Header, nil
}

func (c *Client) signedJSON(ctx context.Context, method, path string, params url.Values, out any) error {
	raw, _, err := c.SignedRequest(ctx, method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// NewOrder places one order. The params carry the full order description.
func (c *Client) NewOrder(ctx context.Context, params url.Values) (map[string]any, error) {
	var result map[string]any
	if err := c.signedJSON(ctx, http.MethodPost, "/fapi/v1/order", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var result map[string]any
	if err := c.signedJSON(ctx, http.MethodDelete, "/fapi/v1/order", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var result map[string]any
	if err := c.signedJSON(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) CancelMultipleOrders(ctx context.Context, symbol string, orderIDs []int64) ([]map[string]any, error) {
	ids := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderIdList", "["+strings.Join(ids, ",")+"]")

	var result []map[string]any
	if err := c.signedJSON(ctx, http.MethodDelete, "/fapi/v1/batchOrders", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) ChangeLeverage(ctx context.Context, symbol string, leverage int) (map[string]any, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	var result map[string]any
	if err := c.signedJSON(ctx, http.MethodPost, "/fapi/v1/leverage", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// NewListenKey opens (or refreshes) the account's user-data stream key.
func (c *Client) NewListenKey(ctx context.Context) (string, error) {
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.signedJSON(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, &result); err != nil {
		return "", err
	}
	if result.ListenKey == "" {
		return "", fmt.Errorf("exchange returned an empty listen key")
	}
	return result.ListenKey, nil
}

func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	_, _, err := c.SignedRequest(ctx, http.MethodPut, "/fapi/v1/listenKey", nil)
	return err
}

func (c *Client) ExchangeInfo(ctx context.Context) (map[string]any, error) {
	raw, _, err := c.PublicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) LeverageBrackets(ctx context.Context) ([]map[string]any, error) {
	var result []map[string]any
	if err := c.signedJSON(ctx, http.MethodGet, "/fapi/v1/leverageBracket", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) AccountInfo(ctx context.Context) (map[string]any, error) {
	var result map[string]any
	if err := c.signedJSON(ctx, http.MethodGet, "/fapi/v3/account", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]map[string]any, error) {
	var result []map[string]any
	if err := c.signedJSON(ctx, http.MethodGet, "/fapi/v1/openOrders", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) PositionRisk(ctx context.Context) ([]map[string]any, error) {
	var result []map[string]any
	if err := c.signedJSON(ctx, http.MethodGet, "/fapi/v3/positionRisk", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// UsedWeight probes the 1-minute request weight consumed so far, reported by
// the exchange on every response header.
func (c *Client) UsedWeight(ctx context.Context) (int, error) {
	_, headers, err := c.PublicRequest(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}

	value := headers.Get(usedWeightHeader)
	if value == "" {
		return 0, fmt.Errorf("used weight header is missing")
	}
	return strconv.Atoi(value)
}
