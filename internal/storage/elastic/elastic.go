package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/mapscrape/internal/storage"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/typedapi/types"
)

// ensure elasticBackend implements storage.Backend
var _ storage.Backend = (*elasticBackend)(nil)

// DefaultIndex is used when Config.Index is empty.
const DefaultIndex = "maps-listings"

// maxWindow mirrors the default index.max_result_window.
const maxWindow = 10000

// Config selects the cluster and index.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Logger    *slog.Logger
}

type elasticBackend struct {
	client *elasticsearch.TypedClient
	index  string
	logger *slog.Logger
}

// mapping keeps the record fields searchable as text and the run metadata
// filterable as keywords.
func mapping() *types.TypeMapping {
	return &types.TypeMapping{
		Properties: map[string]types.Property{
			"id":         types.NewKeywordProperty(),
			"run_id":     types.NewKeywordProperty(),
			"query":      types.NewKeywordProperty(),
			"position":   types.NewIntegerNumberProperty(),
			"isim":       types.NewTextProperty(),
			"adres":      types.NewTextProperty(),
			"puan":       types.NewKeywordProperty(),
			"created_at": types.NewDateProperty(),
		},
	}
}

// New connects to Elasticsearch and creates the index with its mapping if it
// does not exist yet.
func New(ctx context.Context, cfg Config) (storage.Backend, error) {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	b := &elasticBackend{client: client, index: cfg.Index, logger: cfg.Logger}
	if err := b.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *elasticBackend) ensureIndex(ctx context.Context) error {
	exists, err := b.client.Indices.Exists(b.index).Do(ctx)
	if err != nil {
		return fmt.Errorf("check index %s: %w", b.index, err)
	}
	if exists {
		b.logger.Debug("elasticsearch index exists", "index", b.index)
		return nil
	}

	if _, err := b.client.Indices.Create(b.index).Mappings(mapping()).Do(ctx); err != nil {
		return fmt.Errorf("create index %s: %w", b.index, err)
	}
	b.logger.Info("created elasticsearch index", "index", b.index)
	return nil
}

func (b *elasticBackend) Save(ctx context.Context, l *storage.Listing) error {
	_, err := b.client.Index(b.index).
		Id(l.ID).
		Document(l).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("index listing %s: %w", l.ID, err)
	}
	return nil
}

func (b *elasticBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Listing, error) {
	var clauses []types.Query
	if filter.RunID != "" {
		clauses = append(clauses, types.Query{Term: map[string]types.TermQuery{
			"run_id": {Value: filter.RunID},
		}})
	}
	if filter.Query != "" {
		clauses = append(clauses, types.Query{Term: map[string]types.TermQuery{
			"query": {Value: filter.Query},
		}})
	}
	if filter.Since != nil {
		since := filter.Since.UTC().Format(time.RFC3339Nano)
		clauses = append(clauses, types.Query{Range: map[string]types.RangeQuery{
			"created_at": types.DateRangeQuery{Gte: &since},
		}})
	}

	query := &types.Query{MatchAll: &types.MatchAllQuery{}}
	if len(clauses) > 0 {
		query = &types.Query{Bool: &types.BoolQuery{Filter: clauses}}
	}

	// Ordering is applied locally with the same rules as the file sinks, so
	// the whole matching window is fetched and paged afterwards.
	resp, err := b.client.Search().
		Index(b.index).
		Query(query).
		Size(maxWindow).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search listings: %w", err)
	}

	listings := make([]*storage.Listing, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var l storage.Listing
		if err := json.Unmarshal(hit.Source_, &l); err != nil {
			b.logger.Warn("skipping undecodable listing", "index", b.index, "err", err)
			continue
		}
		listings = append(listings, &l)
	}

	return filter.Page(listings), nil
}

func (b *elasticBackend) Close() error {
	return nil
}
