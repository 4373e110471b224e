// Package promoingest imports promo codes from gzip-compressed partner feeds.
//
// Each feed line reads CODE;DISCOUNT;EXPIRES_RFC3339. A code is accepted
// only when at least MinSources feeds list it. Feeds are streamed twice: the
// first pass builds one bloom filter per feed, the second keeps the codes
// the other filters may contain and settles membership exactly.
package promoingest

import (
	"bufio"
	"cmp"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/order-placement/internal/domain/promo"
)

// MaxFeeds is the most feeds one run can corroborate.
const MaxFeeds = bits.UintSize

// Config tunes an ingest run.
type Config struct {
	// MinSources is how many feeds must list a code. Defaults to 2.
	MinSources int
	// Capacity is the expected number of codes per feed.
	Capacity uint
	// FalsePositiveRate of each bloom filter.
	FalsePositiveRate float64
	// ProgressEvery logs progress every that many lines. Zero disables.
	ProgressEvery uint64
	Logger        *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MinSources == 0 {
		c.MinSources = 2
	}
	if c.Capacity == 0 {
		c.Capacity = 1_000_000
	}
	if c.FalsePositiveRate == 0 {
		c.FalsePositiveRate = 0.001
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats summarises a run.
type Stats struct {
	Lines     uint64
	Malformed uint64
	Accepted  int
}

// ParseLine parses one feed record. Codes are upper-cased.
func ParseLine(line string) (promo.PromoCode, error) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	if len(parts) != 3 {
		return promo.PromoCode{}, errors.Errorf("want 3 fields, got %d", len(parts))
	}

	code := strings.ToUpper(strings.TrimSpace(parts[0]))
	if code == "" {
		return promo.PromoCode{}, errors.New("empty code")
	}
	discount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return promo.PromoCode{}, errors.Wrap(err, "discount")
	}
	if discount.IsNegative() {
		return promo.PromoCode{}, errors.Errorf("negative discount %s", discount)
	}
	expires, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[2]))
	if err != nil {
		return promo.PromoCode{}, errors.Wrap(err, "expiry")
	}

	return promo.PromoCode{Code: code, Discount: discount, ExpiresAt: expires.UTC()}, nil
}

// Ingest returns the corroborated codes of feeds sorted by code. When feeds
// disagree on a code's terms, the earliest feed in the list wins.
func Ingest(ctx context.Context, feeds []string, cfg Config) ([]promo.PromoCode, Stats, error) {
	cfg.setDefaults()
	switch {
	case len(feeds) == 0:
		return nil, Stats{}, errors.New("no feeds")
	case len(feeds) > MaxFeeds:
		return nil, Stats{}, errors.Errorf("at most %d feeds, got %d", MaxFeeds, len(feeds))
	case cfg.MinSources < 1 || cfg.MinSources > len(feeds):
		return nil, Stats{}, errors.Errorf("min sources %d out of range 1..%d", cfg.MinSources, len(feeds))
	}

	var stats Stats
	filters, err := buildFilters(ctx, feeds, cfg, &stats)
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "build bloom filters")
	}

	found, err := findCandidates(ctx, feeds, filters, cfg)
	if err != nil {
		return nil, Stats{}, errors.Wrap(err, "find candidates")
	}

	merged := make(map[string]uint)
	for _, candidates := range found {
		for code, c := range candidates {
			merged[code] |= c.mask
		}
	}

	var accepted []promo.PromoCode
	for code, mask := range merged {
		if bits.OnesCount(mask) < cfg.MinSources {
			continue
		}
		first := bits.TrailingZeros(mask)
		accepted = append(accepted, found[first][code].record)
	}
	slices.SortFunc(accepted, func(a, b promo.PromoCode) int { return cmp.Compare(a.Code, b.Code) })

	stats.Accepted = len(accepted)
	return accepted, stats, nil
}

func buildFilters(ctx context.Context, feeds []string, cfg Config, stats *Stats) ([]*bloom.BloomFilter, error) {
	var lines, malformed atomic.Uint64
	filters := make([]*bloom.BloomFilter, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(cfg.Capacity, cfg.FalsePositiveRate)
			var n uint64
			err := streamFeed(ctx, path, func(line string) {
				n++
				if cfg.ProgressEvery > 0 && n%cfg.ProgressEvery == 0 {
					cfg.Logger.Info("pass 1 progress", slog.String("feed", path), slog.Uint64("lines", n))
				}
				p, err := ParseLine(line)
				if err != nil {
					malformed.Add(1)
					cfg.Logger.Debug("skipping malformed line", slog.String("feed", path), slog.String("error", err.Error()))
					return
				}
				filter.AddString(p.Code)
			})
			if err != nil {
				return errors.Wrapf(err, "feed %s", path)
			}
			lines.Add(n)
			filters[i] = filter
			cfg.Logger.Info("pass 1 complete", slog.String("feed", path), slog.Uint64("lines", n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Lines = lines.Load()
	stats.Malformed = malformed.Load()
	return filters, nil
}

type candidate struct {
	record promo.PromoCode
	mask   uint
}

func findCandidates(ctx context.Context, feeds []string, filters []*bloom.BloomFilter, cfg Config) ([]map[string]candidate, error) {
	found := make([]map[string]candidate, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range feeds {
		g.Go(func() error {
			candidates := make(map[string]candidate)
			bit := uint(1) << uint(i)
			err := streamFeed(ctx, path, func(line string) {
				p, err := ParseLine(line)
				if err != nil {
					return
				}
				if _, seen := candidates[p.Code]; seen {
					return
				}
				sources := 1
				for j, f := range filters {
					if j != i && f.TestString(p.Code) {
						sources++
					}
				}
				if sources >= cfg.MinSources {
					candidates[p.Code] = candidate{record: p, mask: bit}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "feed %s", path)
			}
			found[i] = candidates
			cfg.Logger.Info("pass 2 complete", slog.String("feed", path), slog.Int("candidates", len(candidates)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// streamFeed calls fn for every non-empty line of a gzip feed.
func streamFeed(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			fn(line)
		}
	}
	return errors.Wrap(scanner.Err(), "scan")
}

// Upserter stores promo codes.
type Upserter interface {
	Upsert(ctx context.Context, p promo.PromoCode) error
}

// Write upserts codes through store, logging progress every 100 codes.
func Write(ctx context.Context, store Upserter, codes []promo.PromoCode, lg *slog.Logger) error {
	for i, p := range codes {
		if err := store.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert promo code %s", p.Code)
		}
		if (i+1)%100 == 0 || i+1 == len(codes) {
			lg.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return nil
}
