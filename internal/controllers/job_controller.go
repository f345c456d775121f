package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/titlesync/backend/internal/logger"
	"github.com/titlesync/backend/internal/models"
	"github.com/titlesync/backend/internal/services"
)

const formOverheadBytes = 1 << 20

type JobController struct {
	jobService     *services.JobService
	uploadDir      string
	maxUploadBytes int64
}

func NewJobController(jobService *services.JobService, uploadDir string, maxUploadMB int64) *JobController {
	if uploadDir == "" {
		uploadDir = "uploads/jobs"
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &JobController{
		jobService:     jobService,
		uploadDir:      uploadDir,
		maxUploadBytes: maxUploadMB << 20,
	}
}

// CreateJob handles the multipart job creation form
func (jc *JobController) CreateJob(c *gin.Context) {
	// leave room for the form fields next to a file at the limit
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, jc.maxUploadBytes+formOverheadBytes)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds the %d MB upload limit", jc.maxUploadBytes>>20)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}

	// Validate file extension
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !supportedExtension(ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only CSV, XLSX and XLSM files are supported"})
		return
	}
	if file.Size > jc.maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("File exceeds the %d MB upload limit", jc.maxUploadBytes>>20)})
		return
	}

	input, err := bindCreateJobForm(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Create upload directory if it doesn't exist
	if err := os.MkdirAll(jc.uploadDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create upload directory"})
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to name upload"})
		return
	}
	filePath := filepath.Join(jc.uploadDir, id+ext)
	if err := c.SaveUploadedFile(file, filePath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	// the job service owns the file from here on and removes it on failure
	input.SourcePath = filePath
	input.SourceName = filepath.Base(file.Filename)

	job, err := jc.jobService.CreateJob(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Job created successfully",
		"job":     job,
	})
}

func supportedExtension(ext string) bool {
	for _, e := range services.SupportedUploadExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func bindCreateJobForm(c *gin.Context) (services.CreateJobInput, error) {
	in := services.CreateJobInput{
		Name: strings.TrimSpace(c.PostForm("name")),
		Kind: models.JobKind(strings.TrimSpace(c.PostForm("kind"))),
	}

	if raw := c.PostForm("columns"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Columns); err != nil {
			return in, fmt.Errorf("columns must be a JSON object: %v", err)
		}
	}

	languages, err := parseLanguages(c.PostForm("languages"))
	if err != nil {
		return in, err
	}
	in.Languages = languages

	flags := []struct {
		field string
		dst   *bool
	}{
		{"generateOnly", &in.GenerateOnly},
		{"includeMetaDescription", &in.IncludeMetaDescription},
		{"publishToCms", &in.PublishToCMS},
	}
	for _, f := range flags {
		v, err := formBool(c, f.field)
		if err != nil {
			return in, err
		}
		*f.dst = v
	}

	if raw := strings.TrimSpace(c.PostForm("segmentSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return in, fmt.Errorf("segmentSize must be an integer")
		}
		in.SegmentSize = n
	}

	if url := strings.TrimSpace(c.PostForm("cmsUrl")); url != "" || c.PostForm("cmsLogin") != "" || c.PostForm("cmsSecret") != "" {
		isWordPress, err := formBool(c, "isWordPress")
		if err != nil {
			return in, err
		}
		in.CMS = &services.CMSCredentialInput{
			URL:         url,
			Login:       strings.TrimSpace(c.PostForm("cmsLogin")),
			Secret:      c.PostForm("cmsSecret"),
			IsWordPress: isWordPress,
		}
	}
	return in, nil
}

// parseLanguages accepts a JSON array or a comma separated list.
func parseLanguages(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var langs []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &langs); err != nil {
			return nil, fmt.Errorf("languages must be a JSON array of strings")
		}
	} else {
		langs = strings.Split(raw, ",")
	}
	for i := range langs {
		langs[i] = strings.TrimSpace(langs[i])
	}
	return langs, nil
}

func formBool(c *gin.Context, field string) (bool, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", field)
	}
	return v, nil
}

// GetJobs lists all jobs, newest first
func (jc *JobController) GetJobs(c *gin.Context) {
	jobs, err := jc.jobService.ListJobs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns one job with its progress counters
func (jc *JobController) GetJob(c *gin.Context) {
	job, err := jc.jobService.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (jc *JobController) StartJob(c *gin.Context) {
	jc.transition(c, jc.jobService.Start, "Job started")
}

func (jc *JobController) CancelJob(c *gin.Context) {
	jc.transition(c, jc.jobService.Cancel, "Job canceled")
}

func (jc *JobController) ResumeJob(c *gin.Context) {
	jc.transition(c, jc.jobService.Resume, "Job resumed")
}

func (jc *JobController) transition(c *gin.Context, op func(ctx context.Context, id string) (*models.Job, error), message string) {
	job, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message, "job": job})
}

// DeleteJob stops the job if needed and removes it with its results
func (jc *JobController) DeleteJob(c *gin.Context) {
	if err := jc.jobService.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job deleted successfully"})
}

// ExportJob streams the translated table as a spreadsheet download
func (jc *JobController) ExportJob(c *gin.Context) {
	format := services.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(services.ExportXLSX))))
	if format != services.ExportXLSX && format != services.ExportCSV {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be xlsx or csv"})
		return
	}

	job, table, err := jc.jobService.Export(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := services.WriteExport(&buf, format, table); err != nil {
		logger.Error("Failed to build export", map[string]interface{}{"jobID": job.ID, "error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build export"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFileName(job.Name, format)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func exportFileName(name string, format services.ExportFormat) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		name = "translations"
	}
	return name + "." + string(format)
}

// GetFailures returns the publish failure log of a job
func (jc *JobController) GetFailures(c *gin.Context) {
	failures, err := jc.jobService.Failures(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures, "count": len(failures)})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrJobAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed", map[string]interface{}{"path": c.FullPath(), "error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
