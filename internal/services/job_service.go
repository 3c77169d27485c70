package services

import (
	"github.com/sjperalta/opcost-api/internal/jobs"
)

// JobStatus reports the background worker that runs statement deliveries
type JobStatus struct {
	jobs.WorkerStats
	State string `json:"state"`
}

type JobService struct {
	worker *jobs.Worker
}

func NewJobService(worker *jobs.Worker) *JobService {
	return &JobService{worker: worker}
}

func (s *JobService) GetStatus() JobStatus {
	stats := s.worker.GetStats()
	state := "idle"
	switch {
	case stats.MaxConcurrent > 0 && stats.ActiveJobs >= stats.MaxConcurrent:
		state = "saturated"
	case stats.ActiveJobs > 0:
		state = "busy"
	}
	return JobStatus{WorkerStats: stats, State: state}
}
