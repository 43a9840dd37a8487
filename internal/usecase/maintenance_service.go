package usecase

import (
	"context"
	"log/slog"
	"sync"

	"batch-queue/internal/domain"
	"batch-queue/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Scanned      int
	Pruned       int
	StaleRemoved int
}

// MaintenanceService reconciles the batch registry with live job state.
// It holds no locks itself; each batch is reconciled independently.
type MaintenanceService struct {
	sets        domain.SetStore
	batches     domain.BatchRepository
	jobs        domain.JobRepository
	registry    *BatchRegistry
	concurrency int
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewMaintenanceService creates a MaintenanceService reconciling up to
// concurrency batches at once.
func NewMaintenanceService(sets domain.SetStore, batches domain.BatchRepository, jobs domain.JobRepository, concurrency int, logger *slog.Logger) *MaintenanceService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &MaintenanceService{
		sets:        sets,
		batches:     batches,
		jobs:        jobs,
		registry:    NewBatchRegistry(sets),
		concurrency: concurrency,
		logger:      logger.With("component", "maintenance"),
		tracer:      otel.Tracer("batch-queue-usecase"),
	}
}

// Run visits every registered batch, removes ids of vanished jobs from its
// membership set and unregisters the batch once no live job is left.
func (s *MaintenanceService) Run(ctx context.Context) (MaintenanceReport, error) {
	ctx, span := s.tracer.Start(ctx, "service.Maintenance")
	defer span.End()

	ids, err := s.registry.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list batch registry")
		return MaintenanceReport{}, err
	}

	var (
		mu     sync.Mutex
		report = MaintenanceReport{Scanned: len(ids)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			pruned, stale, err := s.reconcile(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			report.StaleRemoved += stale
			if pruned {
				report.Pruned++
			}
			return nil
		})
	}
	err = g.Wait()

	metrics.BatchesPrunedTotal.Add(float64(report.Pruned))
	metrics.StaleMembersRemovedTotal.Add(float64(report.StaleRemoved))
	span.SetAttributes(
		attribute.Int("batches.scanned", report.Scanned),
		attribute.Int("batches.pruned", report.Pruned),
		attribute.Int("members.stale_removed", report.StaleRemoved),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "maintenance pass failed")
		return report, err
	}

	metrics.LiveBatches.Set(float64(report.Scanned - report.Pruned))
	s.logger.Info("maintenance pass finished",
		"scanned", report.Scanned, "pruned", report.Pruned, "stale_removed", report.StaleRemoved)
	return report, nil
}

func (s *MaintenanceService) reconcile(ctx context.Context, id string) (pruned bool, stale int, err error) {
	key := domain.BatchKey(id)

	members, err := s.sets.Members(ctx, key)
	if err != nil {
		return false, 0, err
	}
	live, err := s.jobs.GetMany(ctx, members)
	if err != nil {
		return false, 0, err
	}

	if len(live) < len(members) {
		alive := make(map[string]struct{}, len(live))
		for _, job := range live {
			alive[job.ID] = struct{}{}
		}
		var gone []string
		for _, m := range members {
			if _, ok := alive[m]; !ok {
				gone = append(gone, m)
			}
		}
		if err := s.sets.Remove(ctx, key, gone...); err != nil {
			return false, 0, err
		}
		stale = len(gone)
	}
	if len(live) > 0 {
		return false, stale, nil
	}

	if err := s.registry.Remove(ctx, id); err != nil {
		return false, stale, err
	}
	// A concurrent AddJobs may have added members after they were read.
	refilled, err := s.sets.Exists(ctx, key)
	if err != nil {
		return false, stale, err
	}
	if refilled {
		return false, stale, s.registry.Add(ctx, id)
	}
	if err := s.batches.Delete(ctx, id); err != nil {
		return true, stale, err
	}
	s.logger.Info("pruned empty batch", "batch_id", id)
	return true, stale, nil
}
