package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instazora/creatorcoins/internal/feed"
	"github.com/instazora/creatorcoins/internal/nft"
	"github.com/instazora/creatorcoins/internal/notify"
	"github.com/instazora/creatorcoins/internal/provider"
	"github.com/instazora/creatorcoins/internal/session"
	"github.com/instazora/creatorcoins/internal/spendperm"
	"github.com/instazora/creatorcoins/internal/subaccount"
	"github.com/instazora/creatorcoins/internal/tipping"
	"github.com/instazora/creatorcoins/internal/trading"
)

var (
	primaryAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	subAddr     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	creatorAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeProvider struct{}

func (f *fakeProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	switch method {
	case provider.MethodRequestAccounts:
		raw, _ := json.Marshal([]common.Address{primaryAddr})
		return raw, nil
	case provider.MethodGetSubAccounts:
		raw, _ := json.Marshal(map[string]interface{}{
			"subAccounts": []map[string]interface{}{{"address": subAddr}},
		})
		return raw, nil
	case provider.MethodGetBalance:
		return json.RawMessage(`"0xde0b6b3a7640000"`), nil // 1 ETH
	case provider.MethodSendCalls:
		return json.RawMessage(`"0xbatch"`), nil
	}
	return nil, errors.New("method not found")
}

type fakeSDK struct{}

func (f *fakeSDK) RequestPermission(ctx context.Context, req spendperm.Request) (*spendperm.Permission, error) {
	return &spendperm.Permission{Owner: req.Owner, Spender: req.Spender, PeriodDays: req.PeriodDays}, nil
}

func (f *fakeSDK) GetStatus(ctx context.Context, perm *spendperm.Permission) (*spendperm.Status, error) {
	return &spendperm.Status{IsActive: true, RemainingSpend: provider.EtherToWei("0.1")}, nil
}

func (f *fakeSDK) PrepareSpendCalls(ctx context.Context, perm *spendperm.Permission, amountWei *big.Int) ([]provider.Call, error) {
	return []provider.Call{provider.ValueCall(subAddr, amountWei)}, nil
}

func (f *fakeSDK) Revoke(ctx context.Context, perm *spendperm.Permission) error { return nil }

type fakeLister struct{}

func (f *fakeLister) ListCoins(ctx context.Context, ordering feed.Ordering, cursor string, count int) (*feed.Page, error) {
	return &feed.Page{
		Coins:     []feed.CreatorCoin{{ID: "coin-1", Name: "Alpha", Symbol: "ALP"}},
		EndCursor: "next",
		HasNext:   true,
	}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	prov := &fakeProvider{}

	sess := session.NewManager(func() (provider.Provider, error) { return prov, nil }, log)
	sess.Initialize()

	subs := subaccount.NewManager(func() provider.Provider { return prov }, "https://instazora.app", log)
	perms := spendperm.NewManager(&fakeSDK{}, log)
	hub := notify.NewHub(log)
	tips := tipping.New(perms, subs, hub, nil, log)
	trader := trading.NewTrader(func() provider.Provider { return prov }, subs, hub, log)
	minter := nft.NewMinter(subs, hub, log)
	coinFeed := feed.New(&fakeLister{}, 5, log)
	poller := subaccount.NewPoller(subs, log)

	s := New(Deps{
		Session: sess,
		Subs:    subs,
		Perms:   perms,
		Tips:    tips,
		Trader:  trader,
		Feed:    coinFeed,
		Minter:  minter,
		Hub:     hub,
		Poller:  poller,
		ChainID: 8453,
		Funding: provider.EtherToWei("0.01"),

		AllowanceETH: "0.1",
		PeriodDays:   30,
	}, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/session", s.handleSession)
	r.Post("/session/connect", s.handleConnect)
	r.Post("/subaccount/setup", s.handleSubAccountSetup)
	r.Get("/feed", s.handleFeed)
	r.Post("/feed/ordering", s.handleFeedOrdering)
	r.Post("/permission", s.handlePermissionRequest)
	r.Delete("/permission", s.handlePermissionRevoke)
	r.Post("/tips", s.handleTip)
	r.Post("/trades/buy", s.handleBuy)
	r.Post("/trades/sell", s.handleSell)
	r.Post("/nfts/mint", s.handleMint)
	r.Get("/events", s.handleEvents)
	return r, s
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectFlow(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/session/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, primaryAddr.Hex(), resp["primary"])

	rec = doRequest(t, h, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "connected", status["status"])
}

func TestSubAccountSetupRequiresConnection(t *testing.T) {
	h, _ := newTestRouter(t)
	rec := doRequest(t, h, http.MethodPost, "/subaccount/setup", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubAccountSetup(t *testing.T) {
	h, _ := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/session/connect", "")

	rec := doRequest(t, h, http.MethodPost, "/subaccount/setup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, subAddr.Hex(), resp["subAccount"])
}

func TestFeedEndpoints(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/feed/ordering", `{"ordering":"gainers"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var st feed.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, feed.OrderingGainers, st.Ordering)
	assert.Len(t, st.Coins, 1)

	rec = doRequest(t, h, http.MethodPost, "/feed/ordering", `{"ordering":"hot"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionFlow(t *testing.T) {
	h, _ := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/session/connect", "")
	doRequest(t, h, http.MethodPost, "/subaccount/setup", "")

	rec := doRequest(t, h, http.MethodPost, "/permission", `{"allowanceEth":"0.1","periodDays":30}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodDelete, "/permission", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// A second revoke has nothing to revoke.
	rec = doRequest(t, h, http.MethodDelete, "/permission", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionRequestValidation(t *testing.T) {
	h, _ := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/session/connect", "")
	doRequest(t, h, http.MethodPost, "/subaccount/setup", "")

	rec := doRequest(t, h, http.MethodPost, "/permission", `{"allowanceEth":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionRequestDefaults(t *testing.T) {
	h, _ := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/session/connect", "")
	doRequest(t, h, http.MethodPost, "/subaccount/setup", "")

	rec := doRequest(t, h, http.MethodPost, "/permission", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0.1", resp["allowance"])
	assert.Equal(t, float64(30), resp["periodDays"])
}

func TestTipEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	doRequest(t, h, http.MethodPost, "/session/connect", "")
	doRequest(t, h, http.MethodPost, "/subaccount/setup", "")

	rec := doRequest(t, h, http.MethodPost, "/tips",
		`{"creator":"`+creatorAddr.Hex()+`","amountEth":"0.001"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res tipping.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "0xbatch", res.TxID)
}

func TestTipEndpointValidation(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/tips", `{"creator":"not-an-address","amountEth":"0.001"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/tips",
		`{"creator":"`+creatorAddr.Hex()+`","amountEth":"0"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTradeStatusByFailureKind(t *testing.T) {
	h, _ := newTestRouter(t)
	coin := common.HexToAddress("0x5555555555555555555555555555555555555555")

	// No sub-account yet, so the trade cannot proceed.
	rec := doRequest(t, h, http.MethodPost, "/trades/buy",
		`{"coin":"`+coin.Hex()+`","quantity":"10"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var res trading.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, trading.KindInvalidState, res.Kind)

	// With the sub-account in place the quote call still fails upstream.
	doRequest(t, h, http.MethodPost, "/session/connect", "")
	doRequest(t, h, http.MethodPost, "/subaccount/setup", "")

	rec = doRequest(t, h, http.MethodPost, "/trades/buy",
		`{"coin":"`+coin.Hex()+`","quantity":"10"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNFTListingEndpoint(t *testing.T) {
	graphql := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"tokens":{"nodes":[
			{"token":{"collectionAddress":"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			          "tokenId":"1","tokenStandard":"ERC1155",
			          "metadata":{"name":"Drop"},
			          "mintInfo":{"mintable":true,"price":{"nativePrice":{"decimal":0.000111}}}}}
		]}}}`))
	}))
	defer graphql.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(Deps{NFTs: nft.NewClient(graphql.URL, "")}, log)

	req := httptest.NewRequest(http.MethodGet, "/nfts", nil)
	rec := httptest.NewRecorder()
	s.handleNFTs(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []nft.NFT
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Drop", items[0].Name)
	assert.Equal(t, nft.Standard1155, items[0].Standard)
}

func TestMintEndpoint(t *testing.T) {
	h, _ := newTestRouter(t)
	contract := "0xcccccccccccccccccccccccccccccccccccccccc"

	// No sub-account yet.
	rec := doRequest(t, h, http.MethodPost, "/nfts/mint",
		`{"contract":"`+contract+`","tokenId":"1","standard":"1155","mintPriceWei":1000000000000000}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	doRequest(t, h, http.MethodPost, "/session/connect", "")
	doRequest(t, h, http.MethodPost, "/subaccount/setup", "")

	rec = doRequest(t, h, http.MethodPost, "/nfts/mint",
		`{"contract":"`+contract+`","tokenId":"1","standard":"1155","mintPriceWei":1000000000000000,"quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res nft.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "0xbatch", res.TxID)
	assert.Equal(t, "3554000000000000", res.CostWei)

	rec = doRequest(t, h, http.MethodPost, "/nfts/mint", `{"contract":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	h, s := newTestRouter(t)
	s.hub.Info(context.Background(), "hello")

	rec := doRequest(t, h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var events []notify.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Message)
}
