package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist-enrich/internal/clock"
	"github.com/sells-group/saleslist-enrich/internal/collect"
	"github.com/sells-group/saleslist-enrich/internal/enrich"
	"github.com/sells-group/saleslist-enrich/internal/fetcher"
	"github.com/sells-group/saleslist-enrich/internal/ingest"
	"github.com/sells-group/saleslist-enrich/internal/jobs"
	"github.com/sells-group/saleslist-enrich/internal/opendata"
	"github.com/sells-group/saleslist-enrich/internal/store"
	"github.com/sells-group/saleslist-enrich/internal/usage"
	"github.com/sells-group/saleslist-enrich/pkg/powerplexy"
	"github.com/sells-group/saleslist-enrich/pkg/registry"
)

// pipelineEnv holds the initialized store, clients and job bodies shared
// by the serve/worker/collect commands.
type pipelineEnv struct {
	Store    store.Store
	Clock    clock.Clock
	Location *time.Location
	Redis    *redis.Client
	Meter    *usage.Meter
	Gate     *ingest.Ingestor
	Schedule *jobs.Schedule
	Tracker  *jobs.Tracker
	Bodies   map[string]func(context.Context, jobs.Options) (jobs.Stats, error)
}

func (pe *pipelineEnv) Close() {
	if pe.Redis != nil {
		_ = pe.Redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// redisOpt is the connection shared by the usage meter and the task queue.
func redisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// initEnv sets up the store, redis, source clients and all job bodies.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clk := clock.NewReal(loc)

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.Pool.MaxConns,
		MinConns: cfg.Store.Pool.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	if err := st.UpsertJobDefinitions(ctx, jobs.Definitions()); err != nil {
		_ = st.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := usage.NewRedisKV(rdb)

	meter := usage.NewMeter(kv, clk, usage.Limits{
		CostLimit:   cfg.PowerPlexy.MonthlyCostLimit,
		CallLimit:   cfg.PowerPlexy.EffectiveMonthlyCallLimit(),
		CostPerCall: cfg.PowerPlexy.CostPerRequest,
	})

	candidateCooldown := daysOr(cfg.Registry.CompanyCooldownDays, 30)
	gate := ingest.New(st, clk, candidateCooldown)

	schedule, err := jobs.NewSchedule(loc)
	if err != nil {
		_ = rdb.Close()
		_ = st.Close()
		return nil, err
	}

	env := &pipelineEnv{
		Store:    st,
		Clock:    clk,
		Location: loc,
		Redis:    rdb,
		Meter:    meter,
		Gate:     gate,
		Schedule: schedule,
		Tracker:  jobs.NewTracker(st, clk, schedule),
	}
	env.Bodies = buildBodies(env, kv)
	return env, nil
}

// buildBodies wires each registered job name to its collector.
func buildBodies(env *pipelineEnv, kv usage.KV) map[string]func(context.Context, jobs.Options) (jobs.Stats, error) {
	regOpts := []registry.Option{}
	if cfg.Registry.BaseURL != "" {
		regOpts = append(regOpts, registry.WithBaseURL(cfg.Registry.BaseURL))
	}
	if cfg.Registry.TimeoutSecs > 0 {
		regOpts = append(regOpts, registry.WithTimeout(time.Duration(cfg.Registry.TimeoutSecs)*time.Second))
	}
	if cfg.Registry.MaxResults > 0 {
		regOpts = append(regOpts, registry.WithMaxResults(cfg.Registry.MaxResults))
	}
	reg := registry.NewClient(cfg.Registry.Token, regOpts...)

	daily := usage.NewDailyCounter(kv, env.Clock, int64(cfg.Registry.DailyLimit))
	corpCollector := collect.NewCorporateNumberCollector(
		env.Store, env.Gate, reg, daily, env.Clock, cfg.Registry.Token,
		time.Duration(cfg.Registry.IntervalSecs)*time.Second,
		daysOr(cfg.Registry.CompanyCooldownDays, 30),
	)

	sources, err := opendata.LoadSources(cfg.OpenData.ConfigPath)
	if err != nil {
		zap.L().Warn("open-data source config not loaded", zap.Error(err))
		sources = map[string]opendata.Source{}
	}
	odCollector := collect.NewOpenDataCollector(env.Store, env.Gate,
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout: time.Duration(cfg.OpenData.TimeoutSecs) * time.Second,
		}), sources)

	aiOpts := []powerplexy.Option{}
	if cfg.PowerPlexy.Endpoint != "" {
		aiOpts = append(aiOpts, powerplexy.WithEndpoint(cfg.PowerPlexy.Endpoint))
	}
	if cfg.PowerPlexy.Model != "" {
		aiOpts = append(aiOpts, powerplexy.WithModel(cfg.PowerPlexy.Model))
	}
	if cfg.PowerPlexy.TimeoutSecs > 0 {
		aiOpts = append(aiOpts, powerplexy.WithTimeout(time.Duration(cfg.PowerPlexy.TimeoutSecs)*time.Second))
	}
	ai := powerplexy.NewClient(cfg.PowerPlexy.APIKey, aiOpts...)

	orchestrator := enrich.New(env.Store, env.Gate, env.Meter, ai, reg, env.Clock, enrich.Options{
		Model:         cfg.PowerPlexy.Model,
		MaxTokens:     cfg.PowerPlexy.MaxTokens,
		APIDelay:      time.Duration(cfg.Enrich.APIDelaySecs) * time.Second,
		MaxErrorNotes: cfg.Enrich.MaxErrorNotes,
	})
	aiCollector := collect.NewAIEnrichCollector(env.Store, orchestrator, env.Clock,
		cfg.PowerPlexy.APIKey, cfg.Enrich.BatchSize, daysOr(cfg.Enrich.CooldownDays, 30))
	dailyEnrich := collect.NewDailyEnrichCollector(env.Store, aiCollector,
		env.Tracker, env.Clock, cfg.PowerPlexy.EffectiveDailyRecordLimit)

	return map[string]func(context.Context, jobs.Options) (jobs.Stats, error){
		jobs.JobCorporateNumber: corpCollector.Run,
		jobs.JobOpenData:        odCollector.Run,
		jobs.JobAIEnrich:        dailyEnrich.Run,
		jobs.JobFacebookSync:    collect.NewFacebookSyncCollector(cfg.Facebook.Token).Run,
		jobs.JobAIStub:          collect.AIStubCollector{}.Run,
	}
}

func daysOr(days, fallback int) time.Duration {
	if days <= 0 {
		days = fallback
	}
	return time.Duration(days) * 24 * time.Hour
}
