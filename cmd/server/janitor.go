package main

import (
	"context"
	"os"
	"time"

	"github.com/tunivo/studio/pkg/utils"
)

// sweep deletes jobs and export files older than the retention window.
func (s *Server) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.Retention)

	jobs, err := s.db.DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		s.log.Errorf("Failed to expire jobs: %v", err)
		return
	}
	for _, job := range jobs {
		if job.OutputPath == "" {
			continue
		}
		if err := os.Remove(job.OutputPath); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("Failed to remove export %s: %v", job.OutputPath, err)
		}
	}
	s.metrics.jobsExpired.Add(float64(len(jobs)))

	removed, err := utils.RemoveOlderThan(s.config.OutputDir, cutoff)
	if err != nil {
		s.log.Warnf("Failed to clean %s: %v", s.config.OutputDir, err)
	}
	s.limiter.prune()

	if len(jobs) > 0 || removed > 0 {
		s.log.Infof("Janitor expired %d jobs and %d stray files", len(jobs), removed)
	}
}

// runJanitor sweeps every interval until ctx is done.
func (s *Server) runJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}
