package nft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/instazora/creatorcoins/internal/provider"
)

// recentTokensQuery lists the newest ERC1155/ERC721 tokens on the target
// network; non-mintable tokens are filtered client-side.
const recentTokensQuery = `
query RecentTokens {
  tokens(
    where: { tokenStandards: [ERC1155, ERC721] }
    networks: [{ network: BASE, chain: BASE_MAINNET }]
    pagination: { limit: %d }
    sort: { sortKey: CREATED, sortDirection: DESC }
  ) {
    nodes {
      token {
        collectionAddress
        tokenId
        tokenStandard
        metadata { name description image }
        mintInfo {
          mintable
          price { nativePrice { decimal } }
        }
      }
    }
  }
}`

// Client queries the NFT indexer's GraphQL endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client

	// Rate limiting
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClient creates a new NFT indexer client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
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

func (c *Client) query(ctx context.Context, q string) ([]byte, error) {
	c.throttle()

	body, err := json.Marshal(graphqlRequest{Query: q})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
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

// ListMintable fetches the newest mintable tokens. Tokens the indexer marks
// non-mintable are dropped; sparse metadata gets display defaults.
func (c *Client) ListMintable(ctx context.Context, limit int) ([]NFT, error) {
	if limit <= 0 {
		limit = 20
	}

	data, err := c.query(ctx, fmt.Sprintf(recentTokensQuery, limit))
	if err != nil {
		return nil, err
	}

	var resp graphqlResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	var nfts []NFT
	for _, node := range resp.Data.Tokens.Nodes {
		tok := node.Token
		if !tok.MintInfo.Mintable {
			continue
		}

		standard := Standard1155
		if tok.TokenStandard == "ERC721" {
			standard = Standard721
		}

		item := NFT{
			Contract:    tok.CollectionAddress,
			TokenID:     tok.TokenID,
			Name:        tok.Metadata.Name,
			Description: tok.Metadata.Description,
			Image:       tok.Metadata.Image,
			Creator:     tok.CollectionAddress,
			Standard:    standard,
			MintPriceWei: provider.EtherToWei(
				strconv.FormatFloat(tok.MintInfo.Price.NativePrice.Decimal, 'f', -1, 64)),
		}
		if item.Name == "" {
			item.Name = "Token #" + item.TokenID
		}
		if item.MintPriceWei == nil {
			item.MintPriceWei = new(big.Int)
		}
		nfts = append(nfts, item)
	}

	return nfts, nil
}
