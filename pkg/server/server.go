// Package server exposes the pipeline over HTTP: upload a spreadsheet,
// process it in the background, poll the job, download the result.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soilflow/soilflow/pkg/config"
	"github.com/soilflow/soilflow/pkg/dataset"
	"github.com/soilflow/soilflow/pkg/errors"
	"github.com/soilflow/soilflow/pkg/export"
	"github.com/soilflow/soilflow/pkg/pipeline"
)

// Job states.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job tracks one uploaded dataset through processing.
type Job struct {
	mu sync.Mutex

	ID       string
	Name     string // original upload filename
	Status   string
	Err      string
	Input    string // stored upload path
	Output   string // result path, set on completion
	Created  time.Time
	Finished time.Time

	result *pipeline.Result
}

func (j *Job) complete(res *pipeline.Result, output string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = JobCompleted
	j.result = res
	j.Output = output
	j.Finished = time.Now()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = JobFailed
	j.Err = err.Error()
	j.Finished = time.Now()
}

// Server is the HTTP frontend.
type Server struct {
	cfg       *config.Config
	log       *zap.Logger
	mux       *http.ServeMux
	server    *http.Server
	jobs      sync.Map // id -> *Job
	dir       string   // upload and output spool
	maxUpload int64

	wg sync.WaitGroup
}

// New creates a server spooling uploads under a fresh temp directory.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	dir, err := os.MkdirTemp("", "soilflow-jobs-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeServer, "create spool dir")
	}

	maxUpload, err := config.ParseSize(cfg.Server.MaxUploadSize)
	if err != nil || maxUpload <= 0 {
		maxUpload = 100 << 20
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		mux:       http.NewServeMux(),
		dir:       dir,
		maxUpload: maxUpload,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/", s.handleIndex)

	s.mux.HandleFunc("/api/upload", s.handleUpload)
	s.mux.HandleFunc("/api/process/", s.handleProcess)
	s.mux.HandleFunc("/api/job/", s.handleJob)
	s.mux.HandleFunc("/api/download/", s.handleDownload)
}

// Handler returns the routing handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("server listening", zap.String("addr", s.Addr()))
	return s.server.ListenAndServe()
}

// Shutdown stops the listener, waits for running jobs, and removes the
// spool directory.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.wg.Wait()
	os.RemoveAll(s.dir)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".csv" {
		writeError(w, http.StatusBadRequest, "only .xlsx and .csv uploads are supported")
		return
	}

	job := &Job{
		ID:      uuid.New().String(),
		Name:    header.Filename,
		Status:  JobPending,
		Created: time.Now(),
	}
	job.Input = filepath.Join(s.dir, job.ID+ext)

	dst, err := os.Create(job.Input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store upload: "+err.Error())
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(job.Input)
		writeError(w, http.StatusInternalServerError, "store upload: "+err.Error())
		return
	}
	dst.Close()

	s.jobs.Store(job.ID, job)
	s.log.Info("upload accepted",
		zap.String("job", job.ID),
		zap.String("file", header.Filename))

	writeJSON(w, http.StatusCreated, jobResponse(job))
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, ok := s.job(strings.TrimPrefix(r.URL.Path, "/api/process/"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	job.mu.Lock()
	if job.Status != JobPending {
		status := job.Status
		job.mu.Unlock()
		writeError(w, http.StatusConflict, "job already "+status)
		return
	}
	job.Status = JobRunning
	job.mu.Unlock()

	drop := r.URL.Query().Get("drop_duplicates") == "true"

	s.wg.Add(1)
	go s.process(job, drop)

	writeJSON(w, http.StatusAccepted, jobResponse(job))
}

// process runs the pipeline for one job. Detached from the request context:
// an impatient client should not abort a half-done run.
func (s *Server) process(job *Job, dropDuplicates bool) {
	defer s.wg.Done()

	log := s.log.With(zap.String("job", job.ID))
	tbl, err := dataset.Load(job.Input)
	if err != nil {
		log.Warn("load failed", zap.Error(err))
		job.fail(err)
		return
	}

	res, err := pipeline.NewRunner(s.cfg).
		WithLogger(log).
		WithDropDuplicates(dropDuplicates).
		Run(context.Background(), tbl)
	if err != nil {
		log.Warn("pipeline failed", zap.Error(err))
		job.fail(err)
		return
	}

	output := filepath.Join(s.dir, job.ID+"-out.xlsx")
	if err := export.Save(res.Final, output, export.FormatXLSX); err != nil {
		log.Warn("export failed", zap.Error(err))
		job.fail(err)
		return
	}

	job.complete(res, output)
	log.Info("job completed",
		zap.Int("rows", res.Final.NumRows()),
		zap.Int("imputed_cells", res.ImputedCells()))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, ok := s.job(strings.TrimPrefix(r.URL.Path, "/api/job/"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, ok := s.job(strings.TrimPrefix(r.URL.Path, "/api/download/"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	job.mu.Lock()
	status, output := job.Status, job.Output
	job.mu.Unlock()
	if status != JobCompleted {
		writeError(w, http.StatusConflict, "job is "+status)
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "processed-"+filepath.Base(job.Name)))
	http.ServeFile(w, r, output)
}

func (s *Server) job(id string) (*Job, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
	})
}

// jobResponse snapshots a job for the API.
func jobResponse(j *Job) JobResponse {
	j.mu.Lock()
	defer j.mu.Unlock()

	resp := JobResponse{
		ID:      j.ID,
		File:    j.Name,
		Status:  j.Status,
		Error:   j.Err,
		Created: j.Created.Format(time.RFC3339),
	}
	if !j.Finished.IsZero() {
		resp.Finished = j.Finished.Format(time.RFC3339)
	}
	if j.result != nil {
		res := j.result
		resp.Summary = &JobSummary{
			RowsIn:       res.Filter.RowsBefore,
			RowsOut:      res.Final.NumRows(),
			Duplicates:   res.Duplicates.Duplicates,
			ImputedCells: res.ImputedCells(),
			Classes:      res.Contamination.Classes,
			Warnings:     res.Warnings,
		}
	}
	return resp
}

// Request/Response types

// JobResponse is the job status document.
type JobResponse struct {
	ID       string      `json:"id"`
	File     string      `json:"file"`
	Status   string      `json:"status"`
	Error    string      `json:"error,omitempty"`
	Created  string      `json:"created"`
	Finished string      `json:"finished,omitempty"`
	Summary  *JobSummary `json:"summary,omitempty"`
}

// JobSummary carries the headline numbers of a completed run.
type JobSummary struct {
	RowsIn       int            `json:"rows_in"`
	RowsOut      int            `json:"rows_out"`
	Duplicates   int            `json:"duplicates"`
	ImputedCells int            `json:"imputed_cells"`
	Classes      map[string]int `json:"classes"`
	Warnings     []string       `json:"warnings,omitempty"`
}

// ErrorResponse is the error document.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>soilflow</title>
<style>
body { font-family: sans-serif; max-width: 40rem; margin: 3rem auto; color: #222; }
h1 { font-size: 1.4rem; } code { background: #eee; padding: 0 .3rem; }
</style>
</head>
<body>
<h1>soilflow</h1>
<p>Upload a soil survey spreadsheet, then process and download it:</p>
<form action="/api/upload" method="post" enctype="multipart/form-data">
  <input type="file" name="file" accept=".xlsx,.csv">
  <button type="submit">Upload</button>
</form>
<p>Then <code>POST /api/process/{id}</code>, poll <code>GET /api/job/{id}</code>,
and fetch <code>GET /api/download/{id}</code>.</p>
</body>
</html>
`
