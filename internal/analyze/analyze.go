// Package analyze drives the full analysis pipeline for uploaded files:
// acquire a session, transfer the file in, trace or inspect it, retrieve
// the produced logs, and always return the guest to a clean state.
// Progress is tracked in an in-memory store polled by the HTTP API.
package analyze

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/classify"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/sandbox"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

var (
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandbox_analyses_total",
		Help: "Completed analyses by final status.",
	}, []string{"status"})

	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandbox_analysis_duration_seconds",
		Help:    "Wall-clock duration of full analysis pipelines.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandbox_sessions_active",
		Help: "Number of active sandbox sessions (0 or 1).",
	})
)

// Status is the lifecycle state of one analysis request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Progress is the externally visible state of one analysis request.
type Progress struct {
	ID        string                `json:"id"`
	FileName  string                `json:"file_name"`
	Status    Status                `json:"status"`
	Percent   int                   `json:"progress"`
	Message   string                `json:"message"`
	Output    string                `json:"output_text,omitempty"`
	Report    *types.AnalysisReport `json:"report,omitempty"`
	TraceFile types.HostPath        `json:"trace_file,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Store is an in-memory progress store keyed by analysis ID.
type Store struct {
	mu sync.RWMutex
	m  map[string]*Progress
}

// NewStore creates an empty progress store.
func NewStore() *Store {
	return &Store{m: make(map[string]*Progress)}
}

// Get returns a copy of the progress record for an analysis ID.
func (s *Store) Get(id string) (Progress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.m[id]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

func (s *Store) create(id, fileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = &Progress{
		ID:        id,
		FileName:  fileName,
		Status:    StatusPending,
		Percent:   5,
		Message:   "queued for analysis",
		UpdatedAt: time.Now(),
	}
}

func (s *Store) update(id string, percent int, message string, mutate func(*Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return
	}
	p.Status = StatusProcessing
	p.Percent = percent
	p.Message = message
	p.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(p)
	}
}

func (s *Store) finish(id string, status Status, message string, mutate func(*Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[id]
	if !ok {
		return
	}
	p.Status = status
	p.Message = message
	if status == StatusDone {
		p.Percent = 100
	}
	p.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(p)
	}
}

// Config holds analysis service configuration.
type Config struct {
	// ResultsDir is the host directory retrieved logs are written to.
	ResultsDir string
}

// Service runs analysis pipelines in the background, one at a time
// behind the manager's session gate.
type Service struct {
	manager *sandbox.Manager
	store   *Store
	config  *Config
}

// NewService creates an analysis service.
func NewService(manager *sandbox.Manager, store *Store, config *Config) *Service {
	return &Service{manager: manager, store: store, config: config}
}

// Submit registers a new analysis for an uploaded host file and starts
// it in the background. It returns the analysis ID immediately.
func (s *Service) Submit(hostPath types.HostPath) string {
	id := uuid.NewString()
	s.store.create(id, filepath.Base(string(hostPath)))
	go s.run(id, hostPath)
	return id
}

// run drives one full pipeline. Errors surface in the progress store;
// the session's Close guarantees the revert on every path.
func (s *Service) run(id string, hostPath types.HostPath) {
	start := time.Now()
	ctx := context.Background()

	err := s.analyze(ctx, id, hostPath)
	analysisDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logging.Error("analysis failed",
			logging.String("analysis_id", id),
			logging.Err(err),
		)
		analysesTotal.WithLabelValues(string(StatusError)).Inc()
		s.store.finish(id, StatusError, fmt.Sprintf("analysis failed: %v", err), nil)
		return
	}
	analysesTotal.WithLabelValues(string(StatusDone)).Inc()
}

func (s *Service) analyze(ctx context.Context, id string, hostPath types.HostPath) error {
	s.store.update(id, 10, "waiting for sandbox", nil)

	sess, err := s.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	sessionsActive.Set(1)
	defer func() {
		sess.Close()
		sessionsActive.Set(0)
	}()

	s.store.update(id, 15, "starting sandbox", nil)
	if err := sess.Start(ctx); err != nil {
		return err
	}

	s.store.update(id, 20, "copying file into guest", nil)
	guestPath, err := sess.SubmitFile(ctx, hostPath)
	if err != nil {
		return err
	}

	s.store.update(id, 40, "classifying content", nil)
	profile := classify.Classify(string(guestPath))
	if profile.Category == types.CategoryUnsupported {
		return &types.UnsupportedTypeError{Ext: profile.Ext, Category: profile.Category}
	}

	var report *types.AnalysisReport
	if profile.Category == types.CategoryDocument {
		s.store.update(id, 60, "inspecting document in guest", nil)
		report, err = sess.RunAnalysis(ctx, guestPath, types.AnalysisOptions{})
	} else {
		s.store.update(id, 60, "running syscall trace", nil)
		report, err = sess.RunAnalysis(ctx, guestPath, types.AnalysisOptions{Trace: true})
	}
	if err != nil {
		return err
	}

	s.store.update(id, 90, "retrieving analysis results", func(p *Progress) {
		p.Report = report
	})

	var traceDest types.HostPath
	if artifact := reportArtifact(report); artifact != "" {
		traceDest = types.HostPath(filepath.Join(s.config.ResultsDir, fmt.Sprintf("analysis_log_%s.txt", id)))
		if err := sess.RetrieveArtifact(ctx, artifact, traceDest); err != nil {
			// A missing log is reported through the progress record, not
			// as a pipeline failure: the execution itself already ran.
			logging.Warn("failed to retrieve analysis log",
				logging.String("analysis_id", id),
				logging.Err(err),
			)
			traceDest = ""
		}
	}

	s.store.finish(id, StatusDone, "analysis completed", func(p *Progress) {
		p.Report = report
		p.TraceFile = traceDest
		p.Output = summarize(report, traceDest)
	})
	return nil
}

// reportArtifact returns the guest log produced by the analysis, if any.
func reportArtifact(report *types.AnalysisReport) types.GuestPath {
	if report.TraceLog != "" {
		return report.TraceLog
	}
	return report.DocumentLog
}

// summarize renders the human-readable result text shown to the caller.
func summarize(report *types.AnalysisReport, traceFile types.HostPath) string {
	out := "File Analysis Results:\n"
	out += fmt.Sprintf("File Type: %s\n", report.Profile.Ext)
	out += fmt.Sprintf("Category: %s\n", report.Profile.Category)
	if report.Profile.Runtime != "" {
		out += fmt.Sprintf("Runtime: %s\n", report.Profile.Runtime)
	}
	if report.Outcome != nil {
		out += fmt.Sprintf("Exit Code: %d\n", report.Outcome.ExitCode)
		if report.Outcome.Stdout != "" {
			out += fmt.Sprintf("Output:\n%s\n", report.Outcome.Stdout)
		}
	}
	if traceFile != "" {
		out += fmt.Sprintf("System call log saved to: %s\n", traceFile)
	}
	if report.DocumentLog != "" {
		out += fmt.Sprintf("Document analysis log: %s\n", report.DocumentLog)
	}
	return out
}
