package nft

import "math/big"

// Standard is the token standard of a mintable item.
type Standard string

const (
	Standard1155 Standard = "1155"
	Standard721  Standard = "721"
)

// NFT is one mintable token surfaced by the indexer.
type NFT struct {
	Contract    string   `json:"contract"`
	TokenID     string   `json:"tokenId"` // decimal; empty for 721 drops
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Image       string   `json:"image,omitempty"`
	Creator     string   `json:"creator"`
	Standard    Standard `json:"standard"`

	MintPriceWei *big.Int `json:"mintPriceWei"`
	MaxSupply    *big.Int `json:"maxSupply,omitempty"`
	TotalMinted  *big.Int `json:"totalMinted,omitempty"`
}

// graphqlRequest is the POST body for the indexer's GraphQL endpoint.
type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlResponse struct {
	Data struct {
		Tokens struct {
			Nodes []struct {
				Token struct {
					CollectionAddress string `json:"collectionAddress"`
					TokenID           string `json:"tokenId"`
					TokenStandard     string `json:"tokenStandard"`
					Metadata          struct {
						Name        string `json:"name"`
						Description string `json:"description"`
						Image       string `json:"image"`
					} `json:"metadata"`
					MintInfo struct {
						Mintable bool `json:"mintable"`
						Price    struct {
							NativePrice struct {
								Decimal float64 `json:"decimal"`
							} `json:"nativePrice"`
						} `json:"price"`
					} `json:"mintInfo"`
				} `json:"token"`
			} `json:"nodes"`
		} `json:"tokens"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
