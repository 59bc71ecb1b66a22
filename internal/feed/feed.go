package feed

import (
	"context"
	"log/slog"
	"sync"
)

// Lister fetches one page of a listing. *Client implements it; tests use
// fakes.
type Lister interface {
	ListCoins(ctx context.Context, ordering Ordering, cursor string, count int) (*Page, error)
}

// Feed is a read cache over the indexing API with cursor-based pagination.
// At most one fetch is in flight; LoadMore calls during a fetch (or once the
// listing is exhausted) are no-ops. Switching ordering resets the cursor and
// replaces the list rather than appending.
type Feed struct {
	client   Lister
	pageSize int
	log      *slog.Logger

	mu       sync.Mutex
	ordering Ordering
	coins    []CreatorCoin
	cursor   string
	hasMore  bool
	loading  bool
	lastErr  string
	gen      int // bumped on every reset so stale responses are dropped
}

// State is a read snapshot of the feed.
type State struct {
	Ordering Ordering      `json:"ordering"`
	Coins    []CreatorCoin `json:"coins"`
	HasMore  bool          `json:"hasMore"`
	Loading  bool          `json:"loading"`
	Error    string        `json:"error,omitempty"`
}

// New creates a feed over the given client, starting on the "new" listing.
func New(client Lister, pageSize int, log *slog.Logger) *Feed {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Feed{
		client:   client,
		pageSize: pageSize,
		log:      log,
		ordering: OrderingNew,
		hasMore:  true,
	}
}

// Snapshot returns the current feed state.
func (f *Feed) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	coins := make([]CreatorCoin, len(f.coins))
	copy(coins, f.coins)
	return State{
		Ordering: f.ordering,
		Coins:    coins,
		HasMore:  f.hasMore,
		Loading:  f.loading,
		Error:    f.lastErr,
	}
}

// Refresh replaces the list with the first page of the current ordering.
func (f *Feed) Refresh(ctx context.Context) {
	f.mu.Lock()
	f.cursor = ""
	f.hasMore = true
	f.gen++
	f.mu.Unlock()
	f.fetch(ctx, false)
}

// SetOrdering switches the listing, resetting the cursor and fully replacing
// the displayed list.
func (f *Feed) SetOrdering(ctx context.Context, ordering Ordering) {
	if !ordering.Valid() {
		return
	}
	f.mu.Lock()
	f.ordering = ordering
	f.cursor = ""
	f.hasMore = true
	f.gen++
	f.mu.Unlock()
	f.fetch(ctx, false)
}

// LoadMore appends the next page. A no-op while a fetch is in flight or when
// the listing is exhausted: two quick LoadMore calls fetch exactly one page.
func (f *Feed) LoadMore(ctx context.Context) {
	f.mu.Lock()
	if f.loading || !f.hasMore || f.cursor == "" {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	f.fetch(ctx, true)
}

func (f *Feed) fetch(ctx context.Context, loadMore bool) {
	f.mu.Lock()
	if f.loading {
		f.mu.Unlock()
		return
	}
	f.loading = true
	f.mu.Unlock()

	for {
		f.mu.Lock()
		gen := f.gen
		ordering := f.ordering
		cursor := ""
		if loadMore {
			cursor = f.cursor
		}
		f.mu.Unlock()

		page, err := f.client.ListCoins(ctx, ordering, cursor, f.pageSize)

		f.mu.Lock()
		if gen != f.gen {
			// The feed was reset while this fetch was in flight. The
			// response is stale; refetch from the top of the new listing
			// instead of leaving the old list on display.
			loadMore = false
			f.mu.Unlock()
			continue
		}
		f.loading = false

		if err != nil {
			f.log.Warn("feed fetch failed", "ordering", ordering, "error", err)
			f.coins = nil
			f.lastErr = "failed to load " + string(ordering) + " coins, try again"
			f.mu.Unlock()
			return
		}

		f.lastErr = ""
		if loadMore {
			f.coins = append(f.coins, page.Coins...)
		} else {
			f.coins = page.Coins
		}
		f.cursor = page.EndCursor
		f.hasMore = page.HasNext
		f.mu.Unlock()
		return
	}
}
