package export

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gxplab/reportengine/internal/domain"
)

// Format selects the file format an export is written in.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// JobStatus tracks the lifecycle of an export job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Job is the in-memory record of one export. Export files are short-lived
// artifacts, so jobs live in process memory rather than in the database.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	SessionID    string     `json:"sessionId"`
	Format       Format     `json:"format"`
	Status       JobStatus  `json:"status"`
	RowsExported int        `json:"rowsExported"`
	BytesWritten int64      `json:"bytesWritten"`
	IsSample     bool       `json:"isSample"`
	FilePath     *string    `json:"-"`
	FileName     string     `json:"fileName"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Executor runs a report definition and returns shaped rows. Satisfied by
// report.Engine.
type Executor interface {
	ExecuteReport(ctx context.Context, config domain.ReportConfig) (domain.AggregatedData, error)
}

// ErrThrottled is returned when a session queues exports faster than the
// configured minimum interval allows.
var ErrThrottled = errors.New("export requested too soon after previous export")

var errJobNotFound = errors.New("export job not found")

type Service struct {
	engine Executor

	exportDir   string
	maxRows     int
	minInterval time.Duration
	jobTimeout  time.Duration
	now         func() time.Time

	downloadSigner *downloadSigner

	mu         sync.Mutex
	jobs       map[uuid.UUID]*Job
	lastQueued map[string]time.Time
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// WithMaxRows caps the number of rows a single export file may contain.
func WithMaxRows(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxRows = limit
		}
	}
}

// WithMinInterval sets the per-session minimum spacing between exports.
func WithMinInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval >= 0 {
			s.minInterval = interval
		}
	}
}

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.downloadSigner = newDownloadSigner(ttl)
		}
	}
}

func NewService(engine Executor, opts ...Option) *Service {
	service := &Service{
		engine:      engine,
		exportDir:   filepath.Join(os.TempDir(), "gxp-exports"),
		maxRows:     50000,
		minInterval: 10 * time.Second,
		jobTimeout:  5 * time.Minute,
		now:         time.Now,
		jobs:        make(map[uuid.UUID]*Job),
		lastQueued:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.maxRows <= 0 {
		service.maxRows = 50000
	}
	if service.jobTimeout <= 0 {
		service.jobTimeout = 5 * time.Minute
	}
	if strings.TrimSpace(service.exportDir) == "" {
		service.exportDir = filepath.Join(os.TempDir(), "gxp-exports")
	}
	if service.downloadSigner == nil {
		service.downloadSigner = newDownloadSigner(15 * time.Minute)
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

// Request describes one export to queue. SessionID identifies the browser
// session for throttling; Name becomes the base of the downloaded file name.
type Request struct {
	SessionID string
	Name      string
	Format    Format
	Config    domain.ReportConfig
}

// Queue registers an export job and starts a worker for it. It rejects
// sessions that exported more recently than the minimum interval.
func (s *Service) Queue(ctx context.Context, req Request) (Job, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return Job{}, errors.New("session ID is required")
	}
	format := req.Format
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return Job{}, fmt.Errorf("unsupported export format %q", req.Format)
	}
	if err := req.Config.Validate(); err != nil {
		return Job{}, fmt.Errorf("invalid report config: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	if s.minInterval > 0 {
		if last, ok := s.lastQueued[sessionID]; ok && now.Sub(last) < s.minInterval {
			s.mu.Unlock()
			return Job{}, ErrThrottled
		}
	}
	s.lastQueued[sessionID] = now
	job := &Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Format:    format,
		Status:    JobStatusPending,
		CreatedAt: now,
	}
	job.FileName = s.finalFileName(req.Name, job.ID, format)
	s.jobs[job.ID] = job
	snapshot := *job
	s.mu.Unlock()

	s.launchWorker(snapshot, req.Config)
	return snapshot, nil
}

// GetJob returns a snapshot of one export job.
func (s *Service) GetJob(id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, errJobNotFound
	}
	return *job, nil
}

// ListJobs returns snapshots of all jobs for a session, newest first.
func (s *Service) ListJobs(sessionID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0)
	for _, job := range s.jobs {
		if sessionID == "" || job.SessionID == sessionID {
			jobs = append(jobs, *job)
		}
	}
	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].CreatedAt.After(jobs[i].CreatedAt) {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}
	return jobs
}

// BuildDownloadURL signs a short-lived download URL for completed export files.
func (s *Service) BuildDownloadURL(job Job) (*string, error) {
	if job.Status != JobStatusCompleted {
		return nil, nil
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, nil
	}
	if s.downloadSigner == nil {
		return nil, errors.New("download signer not configured")
	}
	token := s.downloadSigner.Sign(job.ID, s.now())
	values := url.Values{}
	values.Set("token", token)
	download := fmt.Sprintf("/exports/files/%s?%s", job.ID.String(), values.Encode())
	return &download, nil
}

// ValidateDownloadToken ensures the token is valid for the given job.
func (s *Service) ValidateDownloadToken(jobID uuid.UUID, token string) error {
	if s.downloadSigner == nil {
		return errors.New("download signer not configured")
	}
	return s.downloadSigner.Verify(jobID, token, s.now())
}

// OpenJobFile opens the completed export file for streaming to the client.
func (s *Service) OpenJobFile(job Job) (*os.File, error) {
	if job.Status != JobStatusCompleted {
		return nil, errors.New("export is not completed")
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, errors.New("export file is unavailable")
	}
	file, err := os.Open(*job.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	return file, nil
}

func (s *Service) launchWorker(job Job, config domain.ReportConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	go func() {
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[export] panic while processing job %s: %v", job.ID, rec)
				s.failJob(job.ID, fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := s.runExport(ctx, job, config); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Printf("[export] job %s cancelled", job.ID)
				return
			}
			s.failJob(job.ID, err)
		}
	}()
}

func (s *Service) failJob(jobID uuid.UUID, err error) {
	if err == nil {
		return
	}
	message := truncateError(err)
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = JobStatusFailed
		job.Error = &message
	}
	s.mu.Unlock()
	log.Printf("[export] job %s failed: %v", jobID, err)
}

func (s *Service) runExport(ctx context.Context, job Job, config domain.ReportConfig) error {
	s.setStatus(job.ID, JobStatusRunning)

	result, err := s.engine.ExecuteReport(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to execute report for export: %w", err)
	}
	rows := result.Data
	if len(rows) > s.maxRows {
		log.Printf("[export] job %s truncated to %d rows (had %d)", job.ID, s.maxRows, len(rows))
		rows = rows[:s.maxRows]
	}

	if err := s.ensureExportDirectory(); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("%s-*.%s", job.ID, job.Format))
	if err != nil {
		return fmt.Errorf("failed to create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	columns := buildColumns(result.Metadata)
	var written int64
	switch job.Format {
	case FormatXLSX:
		written, err = writeXLSX(tempFile, columns, rows)
	default:
		written, err = writeCSV(tempFile, columns, rows)
	}
	if err != nil {
		return err
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close export file: %w", err)
	}
	finalPath := filepath.Join(s.exportDir, job.FileName)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to promote export file: %w", err)
	}
	cleanup = false

	completed := s.now()
	s.mu.Lock()
	if stored, ok := s.jobs[job.ID]; ok {
		stored.Status = JobStatusCompleted
		stored.RowsExported = len(rows)
		stored.BytesWritten = written
		stored.IsSample = result.IsSample
		stored.FilePath = &finalPath
		stored.CompletedAt = &completed
	}
	s.mu.Unlock()
	log.Printf("[export] job %s completed (rows=%d path=%s)", job.ID, len(rows), finalPath)
	return nil
}

func (s *Service) setStatus(jobID uuid.UUID, status JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.Status = status
	}
}

func (s *Service) ensureExportDirectory() error {
	if strings.TrimSpace(s.exportDir) == "" {
		return errors.New("export directory is not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure export directory: %w", err)
	}
	return nil
}

func (s *Service) finalFileName(name string, jobID uuid.UUID, format Format) string {
	base := sanitizeFileComponent(name)
	if base == "" {
		base = "report"
	}
	return fmt.Sprintf("%s-%s.%s", base, jobID.String(), format)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "report"
	}
	return result
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(jobID uuid.UUID, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", jobID.String(), expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	raw := fmt.Sprintf("%s:%s", payload, signature)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(jobID uuid.UUID, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("failed to decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != jobID.String() {
		return errors.New("token does not match export job")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	payload := fmt.Sprintf("%s:%s", parts[0], parts[1])
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid download token")
	}
	return nil
}
