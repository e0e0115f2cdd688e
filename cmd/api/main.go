package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"rentradar/internal/budget"
	"rentradar/internal/config"
	"rentradar/internal/domain"
	"rentradar/internal/queue"
	"rentradar/internal/storage"
)

type api struct {
	store    *storage.Store
	rq       *queue.RedisQ
	governor *budget.Governor
	log      *zap.Logger
}

func main() {
	cfg := config.Load()
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer pool.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(pool)
	a := &api{
		store:    store,
		rq:       queue.New(rdb),
		governor: budget.New(store, cfg.DailyCostLimitUsd, logger),
		log:      logger,
	}

	rtr := chi.NewRouter()
	rtr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	rtr.Get("/v1/jobs", a.listJobs)
	rtr.Get("/v1/jobs/{externalID}", a.getJob)
	rtr.Get("/v1/sources", a.listSources)
	rtr.Post("/v1/sources", a.createSource)
	rtr.Get("/v1/queue", a.queueStatus)
	rtr.Get("/v1/ledger/today", a.ledgerToday)
	rtr.Get("/v1/cycles/latest", a.latestCycle)
	rtr.Post("/v1/pause", a.pause)
	rtr.Post("/v1/resume", a.resume)

	logger.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, rtr); err != nil {
		logger.Fatal("api server", zap.Error(err))
	}
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.store.RecentJobs(r.Context(), 100)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusOK, jobs)
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	job, found, err := a.store.GetJob(r.Context(), chi.URLParam(r, "externalID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if !found {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	a.respond(w, http.StatusOK, job)
}

func (a *api) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := a.store.ListSources(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusOK, sources)
}

func (a *api) createSource(w http.ResponseWriter, r *http.Request) {
	var in struct {
		URL          string `json:"url"`
		Region       string `json:"region"`
		PriorityTier string `json:"priority_tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.URL == "" || in.Region == "" {
		http.Error(w, "url and region are required", http.StatusBadRequest)
		return
	}
	tier := domain.PriorityTier(in.PriorityTier)
	switch tier {
	case domain.TierLow, domain.TierMedium, domain.TierHigh:
	case "":
		tier = domain.TierMedium
	default:
		http.Error(w, "priority_tier must be low, medium or high", http.StatusBadRequest)
		return
	}
	id, err := a.store.InsertSource(r.Context(), &domain.SourceRecord{
		URL: in.URL, Region: in.Region, PriorityTier: tier,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *api) queueStatus(w http.ResponseWriter, r *http.Request) {
	cooling, err := a.rq.CoolingDown(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	paused, reason, err := a.rq.Paused(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"cooling_down": cooling,
		"paused":       paused,
		"pause_reason": reason,
	})
}

func (a *api) ledgerToday(w http.ResponseWriter, r *http.Request) {
	entry, err := a.governor.Today(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.respond(w, http.StatusOK, entry)
}

func (a *api) latestCycle(w http.ResponseWriter, r *http.Request) {
	rep, found, err := a.store.LatestCycleReport(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	if !found {
		http.Error(w, "no cycles recorded", http.StatusNotFound)
		return
	}
	a.respond(w, http.StatusOK, rep)
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Reason == "" {
		in.Reason = "operator pause"
	}
	if err := a.rq.Pause(r.Context(), in.Reason); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	if err := a.rq.Resume(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response", zap.Error(err))
	}
}

func (a *api) fail(w http.ResponseWriter, err error) {
	a.log.Error("request failed", zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
