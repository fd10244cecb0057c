package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kmsend/internal/batch"
	"kmsend/internal/health"
	"kmsend/internal/logging"
	"kmsend/internal/recipient"
	"kmsend/internal/store"
)

const requestIDHeader = "X-Request-ID"

// uploadSlot remembers the last accepted recipient list.
type uploadSlot struct {
	mu   sync.Mutex
	path string
}

func (u *uploadSlot) set(path string) {
	u.mu.Lock()
	u.path = path
	u.mu.Unlock()
}

func (u *uploadSlot) get() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.path
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = s.logger.NewRequestID()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()
		s.logger.WithContext(c.Request.Context()).Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func fail(c *gin.Context, status int, err string) {
	c.JSON(status, gin.H{"success": false, "error": err})
}

func (s *Server) registerPageRoutes(r *gin.Engine) {
	r.GET("/", s.handleIndex)
	r.GET("/api/status", s.handleStatus)
}

func (s *Server) handleIndex(c *gin.Context) {
	f := s.deps.Runner.Settings().Filter
	c.HTML(http.StatusOK, "index.html", gin.H{
		"RegistrationTypes": strings.Join(f.RegistrationTypes, ", "),
		"AgeGroups":         strings.Join(f.AgeGroups, ", "),
		"Version":           s.deps.Version,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	set := s.deps.Runner.Settings()
	c.JSON(http.StatusOK, gin.H{
		"running":  s.deps.Runner.Running(),
		"run_id":   s.deps.Runner.CurrentRun(),
		"uploaded": s.upload.get() != "",
		"filter":   set.Filter,
		"template": set.Template,
		"delay":    set.Delay.String(),
	})
}

func (s *Server) registerRunRoutes(r *gin.Engine) {
	r.POST("/upload", s.handleUpload)
	r.POST("/start", s.handleStart)
	r.GET("/logs", s.handleLogs)
}

// handleUpload stores the recipient list and reports how many rows pass the
// filter so the page can show it before starting.
func (s *Server) handleUpload(c *gin.Context) {
	cfg := s.deps.Config()
	if limit := int64(cfg.Server.MaxUploadMB) << 20; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d MB", cfg.Server.MaxUploadMB))
			return
		}
		fail(c, http.StatusBadRequest, "no file uploaded")
		return
	}
	if file.Filename == "" {
		fail(c, http.StatusBadRequest, "no file selected")
		return
	}
	if _, err := recipient.FormatFor(file.Filename); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	dst := uploadDestination(cfg.UploadPath(), file.Filename)
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		s.logger.Error("create upload directory", "error", err)
		fail(c, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if err := c.SaveUploadedFile(file, dst); err != nil {
		s.logger.Error("save upload", "path", dst, "error", err)
		fail(c, http.StatusInternalServerError, "cannot store upload")
		return
	}

	all, err := recipient.Load(dst, cfg.Columns)
	if err != nil {
		s.logger.Warn("rejected upload", "file", file.Filename, "error", err)
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	targets := recipient.Filter(all, s.deps.Runner.Settings().Filter)

	s.upload.set(dst)
	s.logger.Info("recipient list uploaded", "file", file.Filename, "rows", len(all), "targets", len(targets))
	c.JSON(http.StatusOK, gin.H{"success": true, "rows": len(all), "targets": len(targets)})
}

// uploadDestination keeps the configured name but takes the uploaded
// file's extension, so the loader picks the right format.
func uploadDestination(configured, uploaded string) string {
	ext := strings.ToLower(filepath.Ext(uploaded))
	return strings.TrimSuffix(configured, filepath.Ext(configured)) + ext
}

func (s *Server) handleStart(c *gin.Context) {
	path := s.upload.get()
	if path == "" {
		fail(c, http.StatusBadRequest, "no file uploaded")
		return
	}
	cols := s.deps.Config().Columns

	job := batch.Job{
		ID:     uuid.NewString(),
		Source: filepath.Base(path),
		Load: func(context.Context) ([]recipient.Recipient, error) {
			return recipient.Load(path, cols)
		},
	}
	if !s.deps.Runner.Start(s.deps.RunContext, job) {
		fail(c, http.StatusConflict, "already running")
		return
	}
	s.logger.WithContext(c.Request.Context()).Info("run started from web page", "run_id", job.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "run_id": job.ID})
}

// handleLogs streams progress records as server-sent events, one
// `data: <record>` frame per event, until the client leaves.
func (s *Server) handleLogs(c *gin.Context) {
	stream, cancel := s.deps.Events.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		e, err := stream.Next(ctx)
		if err != nil {
			return false
		}
		data, err := json.Marshal(e)
		if err != nil {
			s.logger.Warn("encode progress record", "error", err)
			return true
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err == nil
	})
}

func (s *Server) registerHistoryRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/recipients/:name/history", s.handleRecipientHistory)
}

func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 500)
}

func (s *Server) history(c *gin.Context) bool {
	if s.deps.History == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return false
	}
	return true
}

func (s *Server) handleListRuns(c *gin.Context) {
	if !s.history(c) {
		return
	}
	runs, err := s.deps.History.ListRuns(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		s.logger.Error("list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if !s.history(c) {
		return
	}
	run, err := s.deps.History.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		s.logger.Error("get run", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRecipientHistory(c *gin.Context) {
	if !s.history(c) {
		return
	}
	outcomes, err := s.deps.History.RecipientHistory(c.Request.Context(), c.Param("name"), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if outcomes == nil {
		outcomes = []store.Outcome{}
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func (s *Server) registerOpsRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	_, full := c.GetQuery("full")
	report := s.deps.Health.Report(c.Request.Context(), full)
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Health != nil && !s.deps.Health.IsReady() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
