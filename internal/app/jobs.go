package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobExited  JobStatus = "exited"
	JobFailed  JobStatus = "failed"
)

// Job is one detached shell command tracked across process restarts. Origin
// records what launched it (the tool name or task-run id), so a later `jobs`
// listing can say where a stray build came from.
type Job struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Origin    string    `json:"origin,omitempty"`
	PID       int       `json:"pid"`
	LogPath   string    `json:"log_path"`
	Status    JobStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	ExitCode  int       `json:"exit_code"`
}

// jobDocument is the on-disk form: one JSON document holding every record,
// ordered oldest first so the file diffs cleanly as jobs finish.
type jobDocument struct {
	Jobs []Job `json:"jobs"`
}

// JobStore persists job records to a single JSON file. The in-memory map is
// authoritative between flushes; every Save rewrites the whole document.
type JobStore struct {
	path string
	mu   sync.Mutex
	jobs map[string]Job
}

func NewJobStore(path string) (*JobStore, error) {
	if path == "" {
		return nil, errors.New("job store path required")
	}
	store := &JobStore{path: path, jobs: map[string]Job{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return store, nil
	}
	var doc jobDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for _, job := range doc.Jobs {
		store.jobs[job.ID] = job
	}
	return store, nil
}

func (s *JobStore) Save(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return s.flush()
}

func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok
}

// List returns every record, newest first.
func (s *JobStore) List() ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := sortedJobs(s.jobs)
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return jobs, nil
}

func (s *JobStore) flush() error {
	doc := jobDocument{Jobs: sortedJobs(s.jobs)}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o644)
}

func sortedJobs(m map[string]Job) []Job {
	jobs := make([]Job, 0, len(m))
	for _, job := range m {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].StartedAt.Before(jobs[j].StartedAt)
	})
	return jobs
}
