// Package testutils provides shared helpers for package tests, most notably
// an in-process fake of the remote analysis job service.
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pocketbrief/pocketbrief/internal/domain"
	"github.com/pocketbrief/pocketbrief/internal/identity"
)

// ownerKey renders the identity headers of a request into a single owner
// string, mirroring how the real service partitions jobs.
func ownerKey(r *http.Request) string {
	if userID := r.Header.Get(identity.HeaderUserID); userID != "" {
		return "user:" + userID
	}
	if guestID := r.Header.Get(identity.HeaderGuestID); guestID != "" {
		return "guest:" + guestID
	}
	return ""
}

// GuestOwner and UserOwner build owner strings for seeding jobs directly.
func GuestOwner(guestID string) string { return "guest:" + guestID }
func UserOwner(userID string) string   { return "user:" + userID }

// fakeJob is a job plus the fake's bookkeeping around it.
type fakeJob struct {
	owner string
	job   domain.Job

	// script holds states returned by successive polls. Each poll shifts
	// one entry until a single state remains, which then repeats.
	script []domain.Job

	// hidden excludes the job from the active list while keeping it
	// queryable by ID, mimicking a service that prunes finished jobs from
	// /jobs/active before dropping them entirely.
	hidden bool
}

// FakeJobService is an httptest-backed stand-in for the analysis service.
// Tests seed jobs and scripts, point a remote.Client at URL(), and observe
// call counts.
type FakeJobService struct {
	mu   sync.Mutex
	jobs map[string]*fakeJob

	pollCounts  map[string]int
	cancelCalls map[string]int

	// dropNextPolls makes the next N poll requests fail at the transport
	// level (connection closed mid-request), simulating a network error
	// rather than an explicit error response.
	dropNextPolls int

	server *httptest.Server
}

// NewFakeJobService starts the fake service. Callers must Close it.
func NewFakeJobService() *FakeJobService {
	s := &FakeJobService{
		jobs:        make(map[string]*fakeJob),
		pollCounts:  make(map[string]int),
		cancelCalls: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Post("/jobs", s.handleSubmit)
	r.Get("/jobs/active", s.handleListActive)
	r.Get("/jobs/{jobID}", s.handlePoll)
	r.Post("/jobs/{jobID}/cancel", s.handleCancel)
	r.Post("/jobs/migrate-guest", s.handleMigrate)

	s.server = httptest.NewServer(r)
	return s
}

// URL returns the base URL of the fake service.
func (s *FakeJobService) URL() string { return s.server.URL }

// Close shuts the fake service down.
func (s *FakeJobService) Close() { s.server.Close() }

// SeedJob registers a job owned by owner with the given current state.
func (s *FakeJobService) SeedJob(owner string, job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = &fakeJob{owner: owner, job: job}
}

// SetScript makes successive polls of jobID walk through the given states,
// repeating the last one once the script is exhausted.
func (s *FakeJobService) SetScript(jobID string, states ...domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.script = states
	}
}

// HideFromActive removes jobID from the active list while leaving it
// queryable by ID.
func (s *FakeJobService) HideFromActive(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.hidden = true
	}
}

// DropNextPolls makes the next n poll requests fail at the transport level.
func (s *FakeJobService) DropNextPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropNextPolls = n
}

// PollCount reports how many successful poll requests jobID has served.
func (s *FakeJobService) PollCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCounts[jobID]
}

// CancelCount reports how many cancel requests jobID has received.
func (s *FakeJobService) CancelCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelCalls[jobID]
}

// JobStatus returns the currently stored status for jobID.
func (s *FakeJobService) JobStatus(jobID string) (domain.JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		return j.job.Status, true
	}
	return "", false
}

// Owner returns the current owner string for jobID.
func (s *FakeJobService) Owner(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		return j.owner, true
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func (s *FakeJobService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		GuestID string `json:"guestId"`
		UserID  string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	owner := ownerKey(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "guest or user identity is required")
		return
	}

	now := time.Now()
	job := domain.Job{
		JobID:     "job-" + uuid.NewString()[:8],
		URL:       req.URL,
		Status:    domain.JobStatusQueued,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.JobID] = &fakeJob{owner: owner, job: job}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"jobId":   job.JobID,
	})
}

func (s *FakeJobService) handlePoll(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	if s.dropNextPolls > 0 {
		s.dropNextPolls--
		s.mu.Unlock()
		// Close the connection without a response to simulate a network
		// failure as seen from the client.
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				conn.Close()
			}
		}
		return
	}

	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if j.owner != ownerKey(r) {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "job is not owned by this identity")
		return
	}

	// Advance the script, keeping the final state sticky.
	if len(j.script) > 0 {
		j.job = j.script[0]
		if len(j.script) > 1 {
			j.script = j.script[1:]
		}
	}
	s.pollCounts[jobID]++
	job := j.job
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		domain.Job
	}{Success: true, Job: job})
}

func (s *FakeJobService) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.cancelCalls[jobID]++
	if !j.job.Status.IsTerminal() {
		j.job.Status = domain.JobStatusCancelled
		j.job.UpdatedAt = time.Now()
		j.script = nil
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *FakeJobService) handleListActive(w http.ResponseWriter, r *http.Request) {
	owner := ownerKey(r)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "guest or user identity is required")
		return
	}

	s.mu.Lock()
	jobs := make([]domain.Job, 0)
	for _, j := range s.jobs {
		if j.owner == owner && !j.hidden {
			jobs = append(jobs, j.job)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    jobs,
	})
}

func (s *FakeJobService) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GuestID string `json:"guestId"`
		UserID  string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GuestID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "guestId and userId are required")
		return
	}

	from := GuestOwner(req.GuestID)
	to := UserOwner(req.UserID)

	s.mu.Lock()
	migrated := 0
	for _, j := range s.jobs {
		if j.owner == from {
			j.owner = to
			migrated++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"migratedCount": migrated,
	})
}

// StaticIdentity is an IdentityProvider that always returns the same
// identity.
type StaticIdentity struct {
	ID identity.Identity
}

// Current implements the provider interface used by remote.Client.
func (s StaticIdentity) Current() identity.Identity { return s.ID }

// Guest returns a StaticIdentity for the given guest id.
func Guest(guestID string) StaticIdentity {
	return StaticIdentity{ID: identity.Identity{Kind: identity.KindGuest, GuestID: guestID}}
}

// User returns a StaticIdentity for the given user id.
func User(userID string) StaticIdentity {
	return StaticIdentity{ID: identity.Identity{Kind: identity.KindAuthenticated, UserID: userID}}
}

// ProcessingJob builds a processing-state job for seeding tests.
func ProcessingJob(jobID, url string, progress int) domain.Job {
	now := time.Now()
	return domain.Job{
		JobID:     jobID,
		URL:       url,
		Status:    domain.JobStatusProcessing,
		Progress:  progress,
		CreatedAt: now.Add(-time.Minute),
		UpdatedAt: now,
	}
}

// CompletedJob builds a completed job carrying a small result payload.
func CompletedJob(jobID, url string) domain.Job {
	job := ProcessingJob(jobID, url, 100)
	job.Status = domain.JobStatusCompleted
	job.Result = json.RawMessage(fmt.Sprintf(`{"summary":"analysis of %s"}`, url))
	return job
}

// FailedJob builds a failed job with the given error message.
func FailedJob(jobID, url, message string) domain.Job {
	job := ProcessingJob(jobID, url, 0)
	job.Status = domain.JobStatusFailed
	job.Error = message
	return job
}
