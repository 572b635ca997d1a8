package material

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/core"
	"github.com/book-expert/material-service/internal/metrics"
)

// Resolver errors. Only ErrInvalidQuery is ever returned from Resolve; the
// others describe degraded steps and are logged.
var (
	ErrInvalidQuery            = errors.New("invalid material query")
	ErrOracleUnavailable       = errors.New("relevance oracle unavailable")
	ErrRemoteSearchUnavailable = errors.New("remote stock search unavailable")
)

// Log formats.
const (
	logFmtLibraryDegraded = "Local library lookup degraded, continuing remote-only: %v"
	logFmtOracleDegraded  = "Keeping tag-overlap ranking for '%s': %v"
	logFmtRemoteDegraded  = "Returning partial results for '%s': %v"
	logFmtResolved        = "Resolved '%s': %d local, %d remote (wanted %d)"
	logFmtNoRemote        = "no remote searcher configured"
)

// MaxCount is the largest number of materials one query may ask for.
const MaxCount = 100

const (
	modeHybrid     = "hybrid"
	modeRemoteOnly = "remote_only"
)

// Query is one material search.
type Query struct {
	Phrase      string        `json:"phrase"`
	Count       int           `json:"count"`
	MinDuration time.Duration `json:"min_duration"`
}

// Match is either a local asset or a remote stock asset.
type Match struct {
	Asset  *Asset            `json:"asset,omitempty"`
	Remote *core.RemoteAsset `json:"remote,omitempty"`
}

// IsLocal reports whether the match comes from the local library.
func (m Match) IsLocal() bool {
	return m.Asset != nil
}

// Provider returns where the match came from.
func (m Match) Provider() core.Provider {
	if m.Asset != nil {
		return core.ProviderLocal
	}

	if m.Remote != nil {
		return m.Remote.Provider
	}

	return ""
}

// Location is the local path or the remote URL of the match.
func (m Match) Location() string {
	if m.Asset != nil {
		return m.Asset.Path
	}

	if m.Remote != nil {
		return m.Remote.URL
	}

	return ""
}

// Result is the ordered outcome of a resolve call: local matches first.
type Result struct {
	Matches []Match `json:"matches"`
}

// LocalCount returns the number of local matches.
func (r Result) LocalCount() int {
	count := 0

	for _, m := range r.Matches {
		if m.IsLocal() {
			count++
		}
	}

	return count
}

// RemoteCount returns the number of remote matches.
func (r Result) RemoteCount() int {
	return len(r.Matches) - r.LocalCount()
}

// ResolverOptions wires a Resolver. Oracle, Remote and Usage are optional.
// MinDuration applies to queries that do not set their own.
type ResolverOptions struct {
	HybridEnabled bool
	LibraryDir    string
	Aspect        core.Aspect
	MinDuration   time.Duration
	Scanner       *Scanner
	Tokenizer     *Tokenizer
	Oracle        core.RelevanceOracle
	Remote        core.RemoteSearcher
	Usage         *UsageTracker
}

// Resolver finds footage for a phrase, local library first.
type Resolver struct {
	log        *logger.Logger
	hybrid     bool
	libraryDir string
	aspect     core.Aspect
	minDur     time.Duration
	scanner    *Scanner
	tokenizer  *Tokenizer
	oracle     core.RelevanceOracle
	remote     core.RemoteSearcher
	usage      *UsageTracker
}

// NewResolver creates a Resolver.
func NewResolver(log *logger.Logger, opts ResolverOptions) *Resolver {
	scanner := opts.Scanner
	if scanner == nil {
		scanner = NewScanner(log, ScannerOptions{})
	}

	tokenizer := opts.Tokenizer
	if tokenizer == nil {
		tokenizer = NewTokenizer()
	}

	aspect := opts.Aspect
	if aspect == "" {
		aspect = core.AspectPortrait
	}

	return &Resolver{
		log:        log,
		hybrid:     opts.HybridEnabled,
		libraryDir: strings.TrimSpace(opts.LibraryDir),
		aspect:     aspect,
		minDur:     opts.MinDuration,
		scanner:    scanner,
		tokenizer:  tokenizer,
		oracle:     opts.Oracle,
		remote:     opts.Remote,
		usage:      opts.Usage,
	}
}

// Usage returns the tracker shared by this resolver, or nil.
func (r *Resolver) Usage() *UsageTracker {
	return r.usage
}

// ResetUsage forgets which local assets were handed out, starting a new
// video generation session.
func (r *Resolver) ResetUsage() {
	if r.usage != nil {
		r.usage.Reset()
	}
}

// Resolve returns up to query.Count materials for query.Phrase. Local
// matches come first; the remote searcher fills the remaining slots. Oracle
// and remote failures only shrink or coarsen the result.
func (r *Resolver) Resolve(ctx context.Context, query Query) (Result, error) {
	query.Phrase = strings.TrimSpace(query.Phrase)
	if query.Phrase == "" {
		return Result{}, fmt.Errorf("%w: phrase cannot be empty", ErrInvalidQuery)
	}

	if query.Count < 1 {
		return Result{}, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidQuery, query.Count)
	}

	if query.Count > MaxCount {
		return Result{}, fmt.Errorf("%w: count must be at most %d, got %d", ErrInvalidQuery, MaxCount, query.Count)
	}

	if query.MinDuration <= 0 {
		query.MinDuration = r.minDur
	}

	var local []*Asset

	if r.hybrid && r.libraryDir != "" {
		metrics.ResolveRequestsTotal.WithLabelValues(modeHybrid).Inc()

		local = r.resolveLocal(ctx, query)
	} else {
		metrics.ResolveRequestsTotal.WithLabelValues(modeRemoteOnly).Inc()
	}

	remote := r.resolveRemote(ctx, query, query.Count-len(local))

	matches := make([]Match, 0, len(local)+len(remote))

	for _, asset := range local {
		if r.usage != nil {
			r.usage.Mark(asset.Path)
		}

		matches = append(matches, Match{Asset: asset, Remote: nil})
	}

	for i := range remote {
		matches = append(matches, Match{Asset: nil, Remote: &remote[i]})
	}

	metrics.ResolvedMaterialsTotal.WithLabelValues(metrics.SourceLocal).Add(float64(len(local)))
	metrics.ResolvedMaterialsTotal.WithLabelValues(metrics.SourceRemote).Add(float64(len(remote)))
	r.log.Info(logFmtResolved, query.Phrase, len(local), len(remote), query.Count)

	return Result{Matches: matches}, nil
}

func (r *Resolver) resolveLocal(ctx context.Context, query Query) []*Asset {
	index, err := r.scanner.Scan(ctx, r.libraryDir)
	if err != nil {
		metrics.DegradationsTotal.WithLabelValues(metrics.DegradeLibrary).Inc()
		r.log.Warn(logFmtLibraryDegraded, err)
	}

	if index == nil {
		return nil
	}

	candidates := r.rankLocal(index, query)
	if len(candidates) < query.Count {
		return candidates
	}

	if r.oracle != nil {
		candidates = r.consultOracle(ctx, query.Phrase, candidates)
	}

	return candidates[:query.Count]
}

type scoredAsset struct {
	asset *Asset
	score int
}

// rankLocal orders matching assets by tag overlap, then by fewer total tags,
// then by path.
func (r *Resolver) rankLocal(index *Index, query Query) []*Asset {
	match := newMatcher(query.Phrase, r.tokenizer.Tokens(query.Phrase))
	scores := make(map[*Asset]int)

	for _, t := range index.Tags() {
		if !match.matches(t) {
			continue
		}

		for _, asset := range index.Lookup(t) {
			scores[asset]++
		}
	}

	ranked := make([]scoredAsset, 0, len(scores))

	for asset, score := range scores {
		if r.usage != nil && r.usage.Used(asset.Path) {
			continue
		}

		if query.MinDuration > 0 && asset.Duration > 0 && asset.Duration < query.MinDuration {
			continue
		}

		ranked = append(ranked, scoredAsset{asset: asset, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}

		if len(ranked[i].asset.Tags) != len(ranked[j].asset.Tags) {
			return len(ranked[i].asset.Tags) < len(ranked[j].asset.Tags)
		}

		return ranked[i].asset.Path < ranked[j].asset.Path
	})

	assets := make([]*Asset, len(ranked))
	for i, entry := range ranked {
		assets[i] = entry.asset
	}

	return assets
}

func (r *Resolver) consultOracle(ctx context.Context, phrase string, candidates []*Asset) []*Asset {
	views := make([]core.Candidate, len(candidates))
	for i, asset := range candidates {
		views[i] = core.Candidate{Name: asset.candidateName(), Tags: asset.Tags}
	}

	order, err := r.oracle.Rank(ctx, phrase, views)
	if err != nil {
		metrics.DegradationsTotal.WithLabelValues(metrics.DegradeOracle).Inc()
		r.log.Warn(logFmtOracleDegraded, phrase, fmt.Errorf("%w: %w", ErrOracleUnavailable, err))

		return candidates
	}

	return reorder(candidates, order)
}

// reorder puts the candidates named by the 1-based order first and keeps the
// rest in their original order. Unknown and repeated numbers are ignored.
func reorder(candidates []*Asset, order []int) []*Asset {
	taken := make([]bool, len(candidates))
	out := make([]*Asset, 0, len(candidates))

	for _, number := range order {
		idx := number - 1
		if idx < 0 || idx >= len(candidates) || taken[idx] {
			continue
		}

		taken[idx] = true
		out = append(out, candidates[idx])
	}

	for i, asset := range candidates {
		if !taken[i] {
			out = append(out, asset)
		}
	}

	return out
}

func (r *Resolver) resolveRemote(ctx context.Context, query Query, needed int) []core.RemoteAsset {
	if needed <= 0 {
		return nil
	}

	if r.remote == nil {
		metrics.DegradationsTotal.WithLabelValues(metrics.DegradeRemote).Inc()
		r.log.Warn(logFmtRemoteDegraded, query.Phrase, fmt.Errorf("%w: %s", ErrRemoteSearchUnavailable, logFmtNoRemote))

		return nil
	}

	found, err := r.remote.Search(ctx, core.StockQuery{
		Term:        query.Phrase,
		MinDuration: query.MinDuration,
		Aspect:      r.aspect,
		Limit:       needed,
	})
	if err != nil {
		metrics.DegradationsTotal.WithLabelValues(metrics.DegradeRemote).Inc()
		r.log.Warn(logFmtRemoteDegraded, query.Phrase, fmt.Errorf("%w: %w", ErrRemoteSearchUnavailable, err))

		return nil
	}

	seen := make(map[string]struct{}, len(found))
	assets := make([]core.RemoteAsset, 0, min(needed, len(found)))

	for _, asset := range found {
		if len(assets) == needed {
			break
		}

		if _, dup := seen[asset.URL]; dup || asset.URL == "" {
			continue
		}

		seen[asset.URL] = struct{}{}
		assets = append(assets, asset)
	}

	return assets
}
