package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/instazora/creatorcoins/internal/feed"
	"github.com/instazora/creatorcoins/internal/nft"
	"github.com/instazora/creatorcoins/internal/notify"
	"github.com/instazora/creatorcoins/internal/provider"
	"github.com/instazora/creatorcoins/internal/session"
	"github.com/instazora/creatorcoins/internal/spendperm"
	"github.com/instazora/creatorcoins/internal/storage"
	"github.com/instazora/creatorcoins/internal/subaccount"
	"github.com/instazora/creatorcoins/internal/tipping"
	"github.com/instazora/creatorcoins/internal/trading"
)

// Server exposes the app over HTTP. It is a thin view over the managers:
// every handler reads snapshots or delegates and maps results to status
// codes.
type Server struct {
	sess    *session.Manager
	subs    *subaccount.Manager
	perms   *spendperm.Manager
	tips    *tipping.Orchestrator
	trader  *trading.Trader
	feed    *feed.Feed
	nfts    *nft.Client
	minter  *nft.Minter
	hub     *notify.Hub
	store   *storage.Storage
	poller  *subaccount.Poller
	chainID int64
	funding *big.Int

	defaultAllowanceETH string
	defaultPeriodDays   int

	log *slog.Logger

	server *http.Server
}

// Deps bundles everything the server fronts.
type Deps struct {
	Session *session.Manager
	Subs    *subaccount.Manager
	Perms   *spendperm.Manager
	Tips    *tipping.Orchestrator
	Trader  *trading.Trader
	Feed    *feed.Feed
	NFTs    *nft.Client
	Minter  *nft.Minter
	Hub     *notify.Hub
	Store   *storage.Storage
	Poller  *subaccount.Poller
	ChainID int64
	Funding *big.Int

	// Defaults applied when a permission request omits them.
	AllowanceETH string
	PeriodDays   int
}

// New creates the HTTP server.
func New(d Deps, log *slog.Logger) *Server {
	return &Server{
		sess:    d.Session,
		subs:    d.Subs,
		perms:   d.Perms,
		tips:    d.Tips,
		trader:  d.Trader,
		feed:    d.Feed,
		nfts:    d.NFTs,
		minter:  d.Minter,
		hub:     d.Hub,
		store:   d.Store,
		poller:  d.Poller,
		chainID: d.ChainID,
		funding: d.Funding,

		defaultAllowanceETH: d.AllowanceETH,
		defaultPeriodDays:   d.PeriodDays,

		log: log,
	}
}

// Start runs the server until ctx is done.
func (s *Server) Start(ctx context.Context, port int) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Get("/session", s.handleSession)
	r.Post("/session/connect", s.handleConnect)
	r.Post("/session/disconnect", s.handleDisconnect)

	r.Post("/subaccount/setup", s.handleSubAccountSetup)
	r.Get("/balance", s.handleBalance)

	r.Get("/feed", s.handleFeed)
	r.Post("/feed/refresh", s.handleFeedRefresh)
	r.Post("/feed/more", s.handleFeedMore)
	r.Post("/feed/ordering", s.handleFeedOrdering)

	r.Get("/permission", s.handlePermission)
	r.Post("/permission", s.handlePermissionRequest)
	r.Delete("/permission", s.handlePermissionRevoke)

	r.Post("/tips", s.handleTip)
	r.Get("/tips", s.handleTipHistory)

	r.Post("/trades/buy", s.handleBuy)
	r.Post("/trades/sell", s.handleSell)

	r.Get("/nfts", s.handleNFTs)
	r.Post("/nfts/mint", s.handleMint)

	r.Get("/events", s.handleEvents)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	s.log.Info("starting http server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	status, lastErr := s.sess.Status()
	out := map[string]interface{}{"status": status}
	if lastErr != "" {
		out["error"] = lastErr
	}
	if primary, ok := s.sess.Primary(); ok {
		out["primary"] = primary.Hex()
	}
	if sub, ok := s.subs.Current(); ok {
		out["subAccount"] = sub.Address.Hex()
	}
	if s.perms.HasPermission() {
		out["allowance"] = provider.WeiToEther(s.perms.Allowance())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	primary, err := s.sess.Connect(r.Context())
	if err != nil {
		if provider.IsDeclined(err) {
			writeError(w, http.StatusForbidden, "connection declined")
			return
		}
		writeError(w, http.StatusBadGateway, "connect failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"primary": primary.Hex()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.sess.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleSubAccountSetup(w http.ResponseWriter, r *http.Request) {
	primary, ok := s.sess.Primary()
	if !ok {
		writeError(w, http.StatusConflict, "not connected")
		return
	}

	sub, err := s.subs.Ensure(r.Context(), primary, s.funding)
	if err != nil {
		if errors.Is(err, subaccount.ErrCreationFailed) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "sub-account setup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subAccount": sub.Address.Hex()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	// Display balance comes from the poller cache; nil means unknown, never
	// an error.
	bal := s.poller.Cached()
	out := map[string]interface{}{"available": bal != nil}
	if bal != nil {
		out["balance"] = provider.WeiToEther(bal)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

func (s *Server) handleFeedRefresh(w http.ResponseWriter, r *http.Request) {
	s.feed.Refresh(r.Context())
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

func (s *Server) handleFeedMore(w http.ResponseWriter, r *http.Request) {
	s.feed.LoadMore(r.Context())
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

func (s *Server) handleFeedOrdering(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ordering feed.Ordering `json:"ordering"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Ordering.Valid() {
		writeError(w, http.StatusBadRequest, "ordering must be one of new, gainers, volume")
		return
	}
	s.feed.SetOrdering(r.Context(), req.Ordering)
	writeJSON(w, http.StatusOK, s.feed.Snapshot())
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	perm, state := s.perms.Current()
	out := map[string]interface{}{"state": state}
	if perm != nil {
		out["spender"] = perm.Spender.Hex()
		out["allowance"] = provider.WeiToEther(s.perms.Allowance())
		out["periodDays"] = perm.PeriodDays
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePermissionRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AllowanceETH string `json:"allowanceEth"`
		PeriodDays   int    `json:"periodDays"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	primary, ok := s.sess.Primary()
	if !ok {
		writeError(w, http.StatusConflict, "not connected")
		return
	}
	sub, ok := s.subs.Current()
	if !ok {
		writeError(w, http.StatusConflict, "sub-account not set up")
		return
	}

	if req.AllowanceETH == "" {
		req.AllowanceETH = s.defaultAllowanceETH
	}
	allowance := provider.EtherToWei(req.AllowanceETH)
	if allowance == nil || allowance.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "allowanceEth must be a positive decimal")
		return
	}
	if req.PeriodDays <= 0 {
		req.PeriodDays = s.defaultPeriodDays
	}
	if req.PeriodDays <= 0 {
		req.PeriodDays = 30
	}

	perm, err := s.perms.Request(r.Context(), primary, sub.Address, allowance, req.PeriodDays, s.chainID)
	if err != nil {
		if errors.Is(err, spendperm.ErrDeclined) {
			writeError(w, http.StatusForbidden, "permission request declined")
			return
		}
		writeError(w, http.StatusBadGateway, "permission request failed")
		return
	}

	if s.store != nil {
		g := &storage.PermissionGrant{
			Owner:        primary.Hex(),
			Spender:      perm.Spender.Hex(),
			AllowanceWei: allowance.String(),
			PeriodDays:   req.PeriodDays,
			Status:       "granted",
		}
		if err := s.store.RecordGrant(g); err != nil {
			s.log.Warn("record grant", "error", err)
		}
	}

	s.hub.Success(r.Context(), fmt.Sprintf("Zero-confirmation tipping enabled up to %s ETH", req.AllowanceETH))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spender":    perm.Spender.Hex(),
		"allowance":  req.AllowanceETH,
		"periodDays": req.PeriodDays,
	})
}

func (s *Server) handlePermissionRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.perms.Revoke(r.Context()); err != nil {
		if errors.Is(err, spendperm.ErrNoPermission) {
			writeError(w, http.StatusNotFound, "no permission to revoke")
			return
		}
		writeError(w, http.StatusBadGateway, "revoke failed")
		return
	}

	if s.store != nil {
		if primary, ok := s.sess.Primary(); ok {
			if err := s.store.MarkGrantsRevoked(primary.Hex()); err != nil {
				s.log.Warn("mark grants revoked", "error", err)
			}
		}
	}

	s.hub.Info(r.Context(), "Spend permission revoked")
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Creator   string         `json:"creator"`
		AmountETH string         `json:"amountEth"`
		Preset    tipping.Preset `json:"preset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Creator) {
		writeError(w, http.StatusBadRequest, "creator must be a hex address")
		return
	}
	creator := common.HexToAddress(req.Creator)

	var res tipping.Result
	if req.Preset != "" && req.Preset != tipping.PresetCustom {
		res = s.tips.QuickTip(r.Context(), creator, req.Preset, nil)
	} else {
		amount := provider.EtherToWei(req.AmountETH)
		res = s.tips.Tip(r.Context(), creator, amount)
	}

	writeJSON(w, tipStatus(res), res)
}

func tipStatus(res tipping.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case tipping.KindBusy:
		return http.StatusTooManyRequests
	case tipping.KindDeclined:
		return http.StatusForbidden
	case tipping.KindInvalidState:
		return http.StatusConflict
	case tipping.KindInsufficientBalance, tipping.KindInsufficientAllowance:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleTipHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []storage.TipReceipt{})
		return
	}
	tips, err := s.store.ListTips(50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if tips == nil {
		tips = []storage.TipReceipt{}
	}
	writeJSON(w, http.StatusOK, tips)
}

type tradeRequest struct {
	Coin        string `json:"coin"`
	Quantity    string `json:"quantity"`
	SlippageBps int64  `json:"slippageBps"`
}

func (s *Server) decodeTrade(r *http.Request) (common.Address, *big.Int, int64, error) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return common.Address{}, nil, 0, errors.New("invalid request body")
	}
	if !common.IsHexAddress(req.Coin) {
		return common.Address{}, nil, 0, errors.New("coin must be a hex address")
	}
	qty, ok := new(big.Int).SetString(req.Quantity, 10)
	if !ok || qty.Sign() <= 0 {
		return common.Address{}, nil, 0, errors.New("quantity must be a positive integer")
	}
	return common.HexToAddress(req.Coin), qty, req.SlippageBps, nil
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	coin, qty, slippage, err := s.decodeTrade(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.trader.Buy(r.Context(), coin, qty, slippage)
	writeJSON(w, tradeStatus(res), res)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	coin, qty, slippage, err := s.decodeTrade(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.trader.Sell(r.Context(), coin, qty, slippage)
	writeJSON(w, tradeStatus(res), res)
}

func tradeStatus(res trading.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case trading.KindDeclined:
		return http.StatusForbidden
	case trading.KindInvalidState:
		return http.StatusConflict
	case trading.KindInsufficientBalance:
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleNFTs(w http.ResponseWriter, r *http.Request) {
	items, err := s.nfts.ListMintable(r.Context(), 20)
	if err != nil {
		s.log.Warn("nft listing failed", "error", err)
		writeError(w, http.StatusBadGateway, "nft listing unavailable")
		return
	}
	if items == nil {
		items = []nft.NFT{}
	}
	writeJSON(w, http.StatusOK, items)
}

type mintRequest struct {
	nft.NFT
	Quantity int64 `json:"quantity"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Contract) {
		writeError(w, http.StatusBadRequest, "contract must be a hex address")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	res := s.minter.Mint(r.Context(), req.NFT, req.Quantity)
	writeJSON(w, mintStatus(res), res)
}

func mintStatus(res nft.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case nft.KindDeclined:
		return http.StatusForbidden
	case nft.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.hub.Recent()
	if events == nil {
		events = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
