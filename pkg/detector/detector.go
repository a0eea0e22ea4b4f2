// Package detector scans normalised events for arbitrage: wager sets whose
// combined implied probability falls strictly below 1, guaranteeing a
// positive return regardless of outcome.
package detector

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arblens/core/pkg/logger"
	"github.com/arblens/core/pkg/models"
	"github.com/arblens/core/pkg/oddsmath"
	"github.com/arblens/core/pkg/utils"
)

const (
	defaultMinBooks = 2

	// Spread and total lines are matched within this tolerance; anything
	// further apart is a middle, not an arbitrage, and is not paired.
	lineBucketScale = 1e9

	probPlaces  = 6
	stakePlaces = 2
)

// Config narrows what the detector emits.
type Config struct {
	// Markets to detect on, in detection order.
	Markets []string
	// MinProfitPct drops opportunities below this guaranteed profit.
	MinProfitPct float64
	// MinBooks is the number of distinct bookmakers that must quote a
	// market before it is considered. Defaults to 2.
	MinBooks int
}

// Detector finds arbitrage opportunities across bookmakers. Detection is
// deterministic: identical inputs yield an identical output list, order
// included, regardless of bookmaker order within events.
type Detector struct {
	markets   []string
	minProfit float64
	minBooks  int
	wire      oddsmath.Format
	display   oddsmath.Format
	logger    *logger.Logger
}

// New builds a detector. The format is the configured display format;
// wire prices are assumed to arrive in its upstream equivalent.
func New(cfg Config, format oddsmath.Format, log *logger.Logger) *Detector {
	minBooks := cfg.MinBooks
	if minBooks <= 0 {
		minBooks = defaultMinBooks
	}
	return &Detector{
		markets:   append([]string(nil), cfg.Markets...),
		minProfit: cfg.MinProfitPct,
		minBooks:  minBooks,
		wire:      format.Upstream(),
		display:   format,
		logger:    log,
	}
}

// Detect scans events for arbitrage at the given instant. Events that have
// already commenced are discarded. Output is sorted by profit descending,
// then event fingerprint, then market.
func (d *Detector) Detect(events []models.Event, now time.Time) []models.Opportunity {
	ops := make([]models.Opportunity, 0)
	for _, ev := range events {
		if !ev.CommenceTime.After(now) {
			continue
		}
		for _, market := range d.markets {
			ops = append(ops, d.detectMarket(ev, market, now)...)
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.ProfitPct != b.ProfitPct {
			return a.ProfitPct > b.ProfitPct
		}
		if a.SportKey != b.SportKey {
			return a.SportKey < b.SportKey
		}
		if !a.CommenceTime.Equal(b.CommenceTime) {
			return a.CommenceTime.Before(b.CommenceTime)
		}
		if a.HomeTeam != b.HomeTeam {
			return a.HomeTeam < b.HomeTeam
		}
		if a.AwayTeam != b.AwayTeam {
			return a.AwayTeam < b.AwayTeam
		}
		return a.Market < b.Market
	})
	return ops
}

// bookQuote is one bookmaker's validated view of a market: every price
// already converted to decimal odds.
type bookQuote struct {
	book     string
	outcomes []pricedOutcome
}

type pricedOutcome struct {
	name    string
	point   *float64
	bucket  int64
	decimal float64
}

// outcomeKey identifies one leg of a coverage. For h2h the key is the
// outcome name; for pointed markets the line bucket disambiguates.
type outcomeKey struct {
	name   string
	bucket int64
}

type bestPrice struct {
	book    string
	point   *float64
	decimal float64
}

func (d *Detector) detectMarket(ev models.Event, market string, now time.Time) []models.Opportunity {
	pointed := market == "spreads" || market == "totals"

	quotes := d.collectQuotes(ev, market, pointed)
	if len(quotes) < d.minBooks {
		return nil
	}

	// Quotes are grouped by line signature so that only numerically equal
	// lines compete: Over 45.5 pairs with Under 45.5 across books, never
	// with Under 46.0. h2h has a single group.
	groups := make(map[string][]bookQuote)
	for _, q := range quotes {
		sig := q.signature(pointed)
		groups[sig] = append(groups[sig], q)
	}
	signatures := make([]string, 0, len(groups))
	for sig := range groups {
		signatures = append(signatures, sig)
	}
	sort.Strings(signatures)

	var ops []models.Opportunity
	for _, sig := range signatures {
		if op, ok := d.detectGroup(ev, market, pointed, groups[sig], now); ok {
			ops = append(ops, op)
		}
	}
	return ops
}

// collectQuotes gathers one validated quote per bookmaker for the market,
// sorted by bookmaker key. A book quoting the market twice keeps its first
// quote; a book with any invalid price loses the whole market.
func (d *Detector) collectQuotes(ev models.Event, market string, pointed bool) []bookQuote {
	var quotes []bookQuote
	seen := make(map[string]bool)

	for _, bm := range ev.Bookmakers {
		for _, mq := range bm.Markets {
			if mq.Key != market {
				continue
			}
			if seen[bm.Key] {
				d.logger.Warn().
					Str("action", "detector_drop").
					Str("event", ev.Name()).
					Str("bookmaker", bm.Key).
					Str("market", market).
					Msg("Bookmaker quotes the market twice; keeping the first quote")
				continue
			}
			seen[bm.Key] = true

			outcomes, ok := d.priceOutcomes(ev, bm.Key, market, pointed, mq.Outcomes)
			if !ok {
				continue
			}
			quotes = append(quotes, bookQuote{book: bm.Key, outcomes: outcomes})
		}
	}

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].book < quotes[j].book })
	return quotes
}

func (d *Detector) priceOutcomes(ev models.Event, book, market string, pointed bool, raw []models.Outcome) ([]pricedOutcome, bool) {
	outcomes := make([]pricedOutcome, 0, len(raw))
	for _, o := range raw {
		dec, err := oddsmath.ToDecimal(o.Price, d.wire)
		if err != nil || math.IsNaN(dec) {
			d.logger.Warn().
				Str("action", "detector_drop").
				Str("event", ev.Name()).
				Str("bookmaker", book).
				Str("market", market).
				Str("outcome", o.Name).
				Float64("price", o.Price).
				Msg("Invalid price; dropping the bookmaker's market")
			return nil, false
		}
		if pointed && o.Point == nil {
			d.logger.Warn().
				Str("action", "detector_drop").
				Str("event", ev.Name()).
				Str("bookmaker", book).
				Str("market", market).
				Str("outcome", o.Name).
				Msg("Pointed market outcome without a line; dropping the bookmaker's market")
			return nil, false
		}

		po := pricedOutcome{name: o.Name, decimal: dec}
		if o.Point != nil {
			v := *o.Point
			po.point = &v
			po.bucket = lineBucket(v)
		}
		outcomes = append(outcomes, po)
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].name != outcomes[j].name {
			return outcomes[i].name < outcomes[j].name
		}
		return outcomes[i].bucket < outcomes[j].bucket
	})
	return outcomes, true
}

// detectGroup runs best-price-per-outcome selection over one line group and
// emits an opportunity when the combined implied probability dips below 1.
func (d *Detector) detectGroup(ev models.Event, market string, pointed bool, quotes []bookQuote, now time.Time) (models.Opportunity, bool) {
	best := make(map[outcomeKey]bestPrice)
	for _, q := range quotes {
		for _, o := range q.outcomes {
			k := outcomeKey{name: o.name}
			if pointed {
				k.bucket = o.bucket
			}
			// Strictly-greater keeps the lexicographically smallest book
			// on ties, because quotes arrive sorted by book key.
			if cur, ok := best[k]; !ok || o.decimal > cur.decimal {
				best[k] = bestPrice{book: q.book, point: o.point, decimal: o.decimal}
			}
		}
	}

	keys := make([]outcomeKey, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].bucket < keys[j].bucket
	})

	if !validCoverage(market, keys) {
		return models.Opportunity{}, false
	}

	var sum float64
	legs := make([]models.Leg, 0, len(keys))
	for _, k := range keys {
		e := best[k]
		price, err := oddsmath.FormatPrice(e.decimal, d.display)
		if err != nil {
			return models.Opportunity{}, false
		}
		prob := oddsmath.RoundHalfEven(1/e.decimal, probPlaces)
		sum += prob
		legs = append(legs, models.Leg{
			Outcome:      k.name,
			Point:        e.point,
			Bookmaker:    e.book,
			Price:        price,
			DecimalPrice: e.decimal,
			ImpliedProb:  prob,
		})
	}

	if sum >= 1 {
		return models.Opportunity{}, false
	}
	profit := (1/sum - 1) * 100
	if profit < d.minProfit {
		return models.Opportunity{}, false
	}

	books := make([]string, len(legs))
	for i := range legs {
		share := legs[i].ImpliedProb / sum
		legs[i].StakeShare = share
		legs[i].StakePct = oddsmath.RoundHalfEven(100*share, stakePlaces)
		books[i] = legs[i].Bookmaker
	}

	op := models.Opportunity{
		SportKey:         ev.SportKey,
		EventID:          ev.ID,
		EventSlug:        utils.GenerateEventSlug(ev.HomeTeam, ev.AwayTeam, ev.CommenceTime),
		EventName:        ev.Name(),
		HomeTeam:         ev.HomeTeam,
		AwayTeam:         ev.AwayTeam,
		CommenceTime:     ev.CommenceTime,
		Market:           market,
		TotalImpliedProb: sum,
		ProfitPct:        profit,
		Legs:             legs,
		DetectedAt:       now,
	}
	d.logger.LogOpportunity(op.EventName, market, profit, books)
	return op, true
}

// validCoverage enforces the market's shape on the collected outcome keys:
// two opposite lines for spreads, one shared line for totals, at least two
// named outcomes for h2h.
func validCoverage(market string, keys []outcomeKey) bool {
	if len(keys) < 2 {
		return false
	}
	switch market {
	case "spreads":
		return len(keys) == 2 &&
			keys[0].name != keys[1].name &&
			keys[0].bucket+keys[1].bucket == 0
	case "totals":
		for _, k := range keys[1:] {
			if k.bucket != keys[0].bucket {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// signature buckets a quote by its full line assignment, so books quoting
// the same market at different lines never compete on "best" prices.
func (q bookQuote) signature(pointed bool) string {
	if !pointed {
		return ""
	}
	parts := make([]string, len(q.outcomes))
	for i, o := range q.outcomes {
		parts[i] = o.name + "@" + strconv.FormatInt(o.bucket, 10)
	}
	return strings.Join(parts, "|")
}

// lineBucket quantises a line to nanopoint resolution, so lines equal
// within 1e-9 land in the same bucket.
func lineBucket(p float64) int64 {
	return int64(math.Round(p * lineBucketScale))
}
