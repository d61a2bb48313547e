package collect

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saleslist-enrich/internal/fetcher"
	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/normalize"
	"github.com/sells-group/saleslist-enrich/internal/opendata"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

const skipUnmatched = "unmatched"

// maxConcurrentSources bounds how many source downloads run at once.
const maxConcurrentSources = 3

// OpenDataCollector downloads configured open-data company lists and
// ingests rows that match an existing company.
type OpenDataCollector struct {
	store   store.Store
	gate    Gate
	fetcher *fetcher.HTTPFetcher
	sources map[string]opendata.Source
}

func NewOpenDataCollector(st store.Store, gate Gate, f *fetcher.HTTPFetcher, sources map[string]opendata.Source) *OpenDataCollector {
	return &OpenDataCollector{store: st, gate: gate, fetcher: f, sources: sources}
}

// Run is the job body for clone.opendata.
func (c *OpenDataCollector) Run(ctx context.Context, opts jobs.Options) (jobs.Stats, error) {
	stats := jobs.Stats{SkipBreakdown: map[string]int{}, Metadata: map[string]any{}}

	keys := opts.SourceKeys
	if len(keys) == 0 {
		for key, src := range c.sources {
			if src.IsEnabled() {
				keys = append(keys, key)
			}
		}
	}

	idFilter := map[int64]bool{}
	for _, id := range opts.CompanyIDs {
		idFilter[id] = true
	}

	// Sources are independent downloads, so they run concurrently with
	// per-source stats merged at the end. One broken source must not
	// sink the whole run.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSources)
	for _, key := range keys {
		src, ok := c.sources[key]
		if !ok {
			zap.L().Warn("unknown open-data source key", zap.String("source", key))
			mu.Lock()
			stats.Errors++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			local := jobs.Stats{SkipBreakdown: map[string]int{}}
			if err := c.collectSource(gctx, src, opts, idFilter, &local); err != nil {
				zap.L().Error("open-data source failed",
					zap.String("source", key), zap.Error(err))
				local.Errors++
			}
			mu.Lock()
			defer mu.Unlock()
			stats.Input += local.Input
			stats.Inserted += local.Inserted
			stats.Errors += local.Errors
			for reason, n := range local.SkipBreakdown {
				stats.SkipBreakdown[reason] += n
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Skipped = stats.SkipBreakdown[skipUnmatched]
	return stats, nil
}

func (c *OpenDataCollector) collectSource(ctx context.Context, src opendata.Source, opts jobs.Options, idFilter map[int64]bool, stats *jobs.Stats) error {
	reader, err := c.open(ctx, src)
	if err != nil {
		return err
	}
	defer reader.Close()

	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, reader, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		Encoding:  src.Encoding,
		Delimiter: delimiterRune(src.Delimiter),
		TrimSpace: true,
	})

	var idx opendata.ColumnIndex
	rows := 0
	for record := range rowCh {
		if idx == nil {
			idx = opendata.IndexHeader(<-headerCh)
		}
		rows++
		stats.Input++

		row := opendata.MapRow(src, idx, record)
		company, err := c.matchCompany(ctx, row)
		if err != nil {
			stats.Errors++
			continue
		}
		if company == nil {
			stats.SkipBreakdown[skipUnmatched]++
			continue
		}
		if len(idFilter) > 0 && !idFilter[company.ID] {
			continue
		}
		if opts.DryRun {
			continue
		}
		for _, entry := range opendata.Entries(company.ID, src, row) {
			outcome, err := c.gate.Ingest(ctx, entry)
			if err != nil {
				zap.L().Warn("open-data ingest failed",
					zap.Int64("company_id", company.ID),
					zap.String("field", entry.Field), zap.Error(err))
				stats.Errors++
				continue
			}
			if outcome.Created() {
				stats.Inserted++
			}
		}
		if opts.Limit > 0 && rows >= opts.Limit {
			break
		}
	}
	if err := <-errCh; err != nil {
		return err
	}

	zap.L().Info("open-data source processed",
		zap.String("source", src.Key), zap.Int("rows", rows))
	return nil
}

// open fetches the source payload, unwrapping the first CSV member of
// ZIP sources in memory.
func (c *OpenDataCollector) open(ctx context.Context, src opendata.Source) (io.ReadCloser, error) {
	if src.Format == opendata.FormatZipCSV {
		data, err := c.fetcher.DownloadBytes(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		rc, name, err := fetcher.FirstCSVFromZIP(data)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("zip member selected",
			zap.String("source", src.Key), zap.String("member", name))
		return rc, nil
	}
	return c.fetcher.Download(ctx, src.URL)
}

// matchCompany resolves a row to an existing company: corporate number
// first, then the whitespace-stripped name.
func (c *OpenDataCollector) matchCompany(ctx context.Context, row opendata.Row) (*model.Company, error) {
	if row.CorporateNumber != "" {
		company, err := c.store.GetCompanyByCorporateNumber(ctx, row.CorporateNumber)
		if err != nil || company != nil {
			return company, err
		}
	}
	if row.Name == "" {
		return nil, nil
	}
	return c.store.FindCompanyByName(ctx, normalize.Name(row.Name), row.Prefecture)
}

func delimiterRune(s string) rune {
	if s == "" {
		return 0
	}
	return []rune(s)[0]
}
