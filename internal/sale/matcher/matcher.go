package matcher

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/shelfsync/shelfsync/internal/clock"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Strategy names the rule that bound a sale to an item.
type Strategy string

const (
	StrategyListingID  Strategy = "listing_id"
	StrategyCustomSKU  Strategy = "custom_sku"
	StrategySKU        Strategy = "sku"
	StrategyTitleExact Strategy = "title_exact"
	StrategyTitleFuzzy Strategy = "title_fuzzy"
)

// DefaultFuzzyThreshold is the minimum normalized title similarity for a fuzzy
// match. Empirically tuned; the boundary is inclusive.
const DefaultFuzzyThreshold = 0.80

// recentlyEndedWindow bounds how far back ended items stay matchable. A sale
// notification can trail the ended event by days, not months.
const recentlyEndedWindow = 90 * 24 * time.Hour

// Candidate is the sale-side input to matching.
type Candidate struct {
	UserID    snowflake.ID
	ListingID string
	CustomSKU string
	SKU       string
	Title     string
}

// Match is a successful binding.
type Match struct {
	ItemID   snowflake.ID
	Strategy Strategy
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  inventorydomain.Repository
	Clock clock.Clock
}

// Matcher binds incoming sale records to inventory items using a fixed
// priority of strategies, stopping at the first success.
type Matcher struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      inventorydomain.Repository
	clock     clock.Clock
	threshold float64
}

func New(p Params) *Matcher {
	return &Matcher{
		db:        p.DB,
		log:       p.Log.Named("sale.matcher"),
		repo:      p.Repo,
		clock:     p.Clock,
		threshold: DefaultFuzzyThreshold,
	}
}

var Module = fx.Module("sale.matcher", fx.Provide(New))

// Match returns the bound item, or nil when no strategy succeeds. A nil result
// is not an error: the sale is persisted orphaned and can be re-matched later.
func (m *Matcher) Match(ctx context.Context, c Candidate) (*Match, error) {
	type strategy struct {
		name Strategy
		find func(context.Context) (*inventorydomain.Item, error)
	}

	strategies := []strategy{
		{StrategyListingID, func(ctx context.Context) (*inventorydomain.Item, error) {
			if strings.TrimSpace(c.ListingID) == "" {
				return nil, nil
			}
			return m.repo.FindByListingID(ctx, m.db, c.UserID, c.ListingID)
		}},
		{StrategyCustomSKU, func(ctx context.Context) (*inventorydomain.Item, error) {
			if strings.TrimSpace(c.CustomSKU) == "" {
				return nil, nil
			}
			return m.repo.FindByCustomSKU(ctx, m.db, c.UserID, c.CustomSKU)
		}},
		{StrategySKU, func(ctx context.Context) (*inventorydomain.Item, error) {
			if strings.TrimSpace(c.SKU) == "" {
				return nil, nil
			}
			return m.repo.FindBySKU(ctx, m.db, c.UserID, c.SKU)
		}},
		{StrategyTitleExact, func(ctx context.Context) (*inventorydomain.Item, error) {
			if strings.TrimSpace(c.Title) == "" {
				return nil, nil
			}
			return m.repo.FindByTitleFold(ctx, m.db, c.UserID, c.Title)
		}},
		{StrategyTitleFuzzy, m.fuzzyTitle(c)},
	}

	for _, s := range strategies {
		item, err := s.find(ctx)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return &Match{ItemID: item.ID, Strategy: s.name}, nil
		}
	}
	return nil, nil
}

func (m *Matcher) fuzzyTitle(c Candidate) func(context.Context) (*inventorydomain.Item, error) {
	return func(ctx context.Context) (*inventorydomain.Item, error) {
		title := normalizeTitle(c.Title)
		if title == "" {
			return nil, nil
		}

		endedSince := m.clock.Now().Add(-recentlyEndedWindow)
		items, err := m.repo.ListMatchable(ctx, m.db, c.UserID, endedSince)
		if err != nil {
			return nil, err
		}

		var best *inventorydomain.Item
		bestScore := 0.0
		for _, item := range items {
			score := Similarity(title, normalizeTitle(item.Title))
			// Items arrive most-recently-updated first, so a strict greater-than
			// keeps the freshest item on score ties.
			if score > bestScore {
				best = item
				bestScore = score
			}
		}

		// The small epsilon keeps the inclusive threshold boundary stable
		// under float rounding.
		if best == nil || bestScore < m.threshold-1e-9 {
			return nil, nil
		}
		return best, nil
	}
}

// Similarity returns a normalized edit-distance ratio in [0,1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(distance)/float64(longest)
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
