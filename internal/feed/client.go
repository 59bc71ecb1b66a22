package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client is an HTTP client for the coin indexing API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new indexer client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		minDelay: 250 * time.Millisecond, // ~4 RPS
	}
}

func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastCall)
	if elapsed < c.minDelay {
		time.Sleep(c.minDelay - elapsed)
	}
	c.lastCall = time.Now()
}

func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	c.throttle()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// API list names per ordering.
var listPaths = map[Ordering]string{
	OrderingNew:     "coins-new",
	OrderingGainers: "coins-top-gainers",
	OrderingVolume:  "coins-top-volume",
}

// ListCoins fetches one page of the given listing. An empty cursor means the
// first page.
func (c *Client) ListCoins(ctx context.Context, ordering Ordering, cursor string, count int) (*Page, error) {
	list, ok := listPaths[ordering]
	if !ok {
		return nil, fmt.Errorf("unknown ordering %q", ordering)
	}
	if count <= 0 {
		count = 20
	}

	path := "/explore/" + list + "?count=" + strconv.Itoa(count)
	if cursor != "" {
		path += "&after=" + url.QueryEscape(cursor)
	}

	data, err := c.doRequest(ctx, path)
	if err != nil {
		return nil, err
	}

	var resp exploreResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	page := &Page{
		EndCursor: resp.ExploreList.PageInfo.EndCursor,
		HasNext:   resp.ExploreList.PageInfo.HasNextPage,
	}
	for _, edge := range resp.ExploreList.Edges {
		coin := edge.Node
		if coin.ID == "" {
			coin.ID = coin.Address
		}
		if coin.Name == "" {
			coin.Name = "Unnamed Coin"
		}
		if coin.Symbol == "" {
			coin.Symbol = "UNK"
		}
		page.Coins = append(page.Coins, coin)
	}

	return page, nil
}
