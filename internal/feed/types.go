package feed

// Ordering selects which ranked listing the feed shows.
type Ordering string

const (
	OrderingNew     Ordering = "new"
	OrderingGainers Ordering = "gainers"
	OrderingVolume  Ordering = "volume"
)

// Valid reports whether o is a known ordering.
func (o Ordering) Valid() bool {
	switch o {
	case OrderingNew, OrderingGainers, OrderingVolume:
		return true
	}
	return false
}

// CreatorCoin is one tippable/mintable entity from the indexing API.
// Read-only; refreshed by re-fetch, never mutated locally.
type CreatorCoin struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	Description       string `json:"description,omitempty"`
	Address           string `json:"address"`
	CreatorAddress    string `json:"creatorAddress"`
	MarketCap         string `json:"marketCap"`
	Volume24h         string `json:"volume24h"`
	MarketCapDelta24h string `json:"marketCapDelta24h,omitempty"`
	TotalSupply       string `json:"totalSupply"`
	UniqueHolders     int    `json:"uniqueHolders"`
	CreatedAt         string `json:"createdAt"`
	ChainID           int64  `json:"chainId"`
}

// Page is one fetched slice of the listing.
type Page struct {
	Coins     []CreatorCoin
	EndCursor string
	HasNext   bool
}

type exploreResponse struct {
	ExploreList struct {
		Edges []struct {
			Node CreatorCoin `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			EndCursor   string `json:"endCursor"`
			HasNextPage bool   `json:"hasNextPage"`
		} `json:"pageInfo"`
	} `json:"exploreList"`
}
