package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/titlesync/backend/internal/logger"
	"github.com/titlesync/backend/internal/models"
)

// Localizer produces localized text for one operation.
type Localizer interface {
	Localize(ctx context.Context, text, language string, op Operation) (string, error)
}

// Publisher pushes localized content into the remote CMS.
type Publisher interface {
	Resolve(ctx context.Context, locator string, cred *models.Domain) (*RemoteResource, error)
	Publish(ctx context.Context, res *RemoteResource, fields PublishFields, cred *models.Domain) (*RemoteResource, error)
}

// JobServiceDeps wires the collaborators of a JobService.
type JobServiceDeps struct {
	Store       *JobStore
	Localizer   Localizer
	Publisher   Publisher
	OpenSource  RowSourceOpener
	Registry    *RunRegistry
	Events      *Broadcaster
	Metrics     *Metrics
	SegmentSize int // default partition threshold for new jobs
}

// CMSCredentialInput carries the WordPress credentials of a cms job.
type CMSCredentialInput struct {
	URL         string `json:"cmsUrl" validate:"required"`
	Login       string `json:"cmsLogin" validate:"required"`
	Secret      string `json:"cmsSecret" validate:"required"`
	IsWordPress bool   `json:"isWordPress"`
}

// CreateJobInput is everything needed to create a job. The service takes
// ownership of SourcePath: the file is removed when creation fails.
type CreateJobInput struct {
	Name                   string               `json:"name" validate:"required,max=200"`
	SourcePath             string               `json:"-" validate:"required"`
	SourceName             string               `json:"sourceName"`
	Columns                models.ColumnMapping `json:"columns"`
	Languages              []string             `json:"languages" validate:"min=1,unique,dive,required,max=35"`
	Kind                   models.JobKind       `json:"kind" validate:"omitempty,oneof=plain cms"`
	GenerateOnly           bool                 `json:"generateOnly"`
	IncludeMetaDescription bool                 `json:"includeMetaDescription"`
	PublishToCMS           bool                 `json:"publishToCms"`
	SegmentSize            int                  `json:"segmentSize" validate:"gte=0"`
	CMS                    *CMSCredentialInput  `json:"cms,omitempty"`
}

// JobService drives jobs through their state machine and owns their run loops.
type JobService struct {
	store       *JobStore
	localizer   Localizer
	publisher   Publisher
	openSource  RowSourceOpener
	registry    *RunRegistry
	events      *Broadcaster
	metrics     *Metrics
	segmentSize int

	ctx    context.Context // lifetime of every run loop
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobService creates a new job service
func NewJobService(deps JobServiceDeps) *JobService {
	if deps.OpenSource == nil {
		deps.OpenSource = OpenRowSource
	}
	if deps.Registry == nil {
		deps.Registry = NewRunRegistry(nil)
	}
	if deps.Events == nil {
		deps.Events = NewBroadcaster(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.SegmentSize < 1 {
		deps.SegmentSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobService{
		store:       deps.Store,
		localizer:   deps.Localizer,
		publisher:   deps.Publisher,
		openSource:  deps.OpenSource,
		registry:    deps.Registry,
		events:      deps.Events,
		metrics:     deps.Metrics,
		segmentSize: deps.SegmentSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Events exposes the broadcaster progress observers subscribe to.
func (js *JobService) Events() *Broadcaster {
	return js.events
}

// CreateJob validates in, counts the rows of the uploaded file and stores an
// idle job.
func (js *JobService) CreateJob(ctx context.Context, in CreateJobInput) (job *models.Job, err error) {
	defer func() {
		if err != nil && in.SourcePath != "" {
			if rmErr := os.Remove(in.SourcePath); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("Failed to remove rejected upload", map[string]interface{}{"path": in.SourcePath, "error": rmErr})
			}
		}
	}()

	if in.Kind == "" {
		in.Kind = models.JobKindPlain
	}
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	if err := validateColumns(&in); err != nil {
		return nil, err
	}

	var domain *models.Domain
	if in.PublishToCMS {
		if in.Kind != models.JobKindCMS {
			return nil, fmt.Errorf("%w: publishing requires a cms job", ErrValidation)
		}
		if in.CMS == nil {
			return nil, fmt.Errorf("%w: CMS credentials are required to publish", ErrValidation)
		}
		if err := validateStruct(in.CMS); err != nil {
			return nil, err
		}
		if !in.CMS.IsWordPress {
			return nil, fmt.Errorf("%w: the CMS must be confirmed as WordPress", ErrValidation)
		}
		baseURL, err := NormalizeBaseURL(in.CMS.URL)
		if err != nil {
			return nil, err
		}
		domain = &models.Domain{
			BaseURL:     baseURL,
			Login:       in.CMS.Login,
			APISecret:   in.CMS.Secret,
			IsWordPress: true,
		}
	}

	src, err := js.openSource(in.SourcePath)
	if err != nil {
		return nil, err
	}
	for _, col := range mappedColumns(in.Columns) {
		if !HasColumn(src, col) {
			return nil, fmt.Errorf("%w: column %q not found in uploaded file", ErrValidation, col)
		}
	}

	segmentSize := in.SegmentSize
	if segmentSize == 0 {
		segmentSize = js.segmentSize
	}

	job = &models.Job{
		ID:                     uuid.NewString(),
		Name:                   in.Name,
		Kind:                   in.Kind,
		SourcePath:             in.SourcePath,
		SourceName:             in.SourceName,
		Columns:                in.Columns,
		Languages:              in.Languages,
		GenerateOnly:           in.GenerateOnly,
		IncludeMetaDescription: in.IncludeMetaDescription,
		PublishToCMS:           in.PublishToCMS,
		SegmentSize:            segmentSize,
		Status:                 models.JobStatusIdle,
		TotalRows:              src.Len(),
		SegmentIDs:             []string{},
		Domain:                 domain,
	}
	if err := js.store.Create(ctx, job); err != nil {
		return nil, err
	}

	logger.Info("Job created", map[string]interface{}{
		"jobID":     job.ID,
		"rows":      job.TotalRows,
		"languages": job.Languages,
		"kind":      job.Kind,
	})
	js.events.Publish(Event{Type: EventCreated, ID: job.ID, Job: job})
	return job, nil
}

func validateColumns(in *CreateJobInput) error {
	switch {
	case in.Columns.RowKey == "":
		return fmt.Errorf("%w: the row key column is required", ErrValidation)
	case in.Columns.Title == "":
		return fmt.Errorf("%w: the title column is required", ErrValidation)
	case in.Columns.Body == "" && !in.GenerateOnly:
		return fmt.Errorf("%w: the body column is required unless generating", ErrValidation)
	case in.PublishToCMS && in.Columns.Permalink == "" && in.Columns.Slug == "":
		return fmt.Errorf("%w: a permalink or slug column is required to publish", ErrValidation)
	}
	return nil
}

func mappedColumns(c models.ColumnMapping) []string {
	var cols []string
	for _, col := range []string{c.RowKey, c.Title, c.Body, c.Permalink, c.Slug} {
		if col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}

func (js *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return js.store.Get(ctx, id)
}

func (js *JobService) ListJobs(ctx context.Context) ([]models.Job, error) {
	return js.store.List(ctx)
}

// Start moves an idle job to running and launches its loop from row 0.
func (js *JobService) Start(ctx context.Context, id string) (*models.Job, error) {
	return js.launch(ctx, id, []models.JobStatus{models.JobStatusIdle})
}

// Resume relaunches a canceled or failed job from its persisted cursor.
func (js *JobService) Resume(ctx context.Context, id string) (*models.Job, error) {
	return js.launch(ctx, id, []models.JobStatus{models.JobStatusCanceled, models.JobStatusError})
}

func (js *JobService) launch(ctx context.Context, id string, from []models.JobStatus) (*models.Job, error) {
	if _, err := js.store.Get(ctx, id); err != nil {
		return nil, err
	}
	handle, err := js.registry.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := js.store.Transition(ctx, id, from, JobFields{
		"status":     models.JobStatusRunning,
		"last_error": "",
	})
	if err != nil || !ok {
		handle.Release()
		if err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}

	job, err := js.store.Get(ctx, id)
	if err != nil {
		handle.Release()
		return nil, err
	}
	js.events.Publish(Event{Type: EventUpdated, ID: id, Job: job})

	js.wg.Add(1)
	go js.run(job, handle)
	return job, nil
}

// Cancel asks a running job to stop after its current row.
func (js *JobService) Cancel(ctx context.Context, id string) (*models.Job, error) {
	ok, err := js.store.Transition(ctx, id, []models.JobStatus{models.JobStatusRunning}, JobFields{
		"status": models.JobStatusCanceled,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	js.registry.Set(id, false)

	job, err := js.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Info("Job canceled", map[string]interface{}{"jobID": id, "cursor": job.Cursor})
	js.events.Publish(Event{Type: EventUpdated, ID: id, Job: job})
	return job, nil
}

// DeleteJob stops any active run, then removes the job, everything it owns
// and its uploaded file.
func (js *JobService) DeleteJob(ctx context.Context, id string) error {
	job, err := js.store.Get(ctx, id)
	if err != nil {
		return err
	}

	js.registry.Abort(id)
	select {
	case <-js.registry.Done(id):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := js.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove job source file", map[string]interface{}{"jobID": id, "path": job.SourcePath, "error": err})
	}

	logger.Info("Job deleted", map[string]interface{}{"jobID": id})
	js.events.Publish(Event{Type: EventDeleted, ID: id})
	return nil
}

// Export returns the job and its records laid out as a table.
func (js *JobService) Export(ctx context.Context, id string) (*models.Job, [][]string, error) {
	job, err := js.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	records, err := js.store.Records(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, ExportTable(job, records), nil
}

// Failures returns the publish failure log of a job.
func (js *JobService) Failures(ctx context.Context, id string) ([]models.PublishFailure, error) {
	if _, err := js.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return js.store.Failures(ctx, id)
}

// ResumeInterrupted relaunches jobs a previous process left running. Jobs
// whose run lock is still held, by a live peer or by the lease of a crashed
// process, are skipped and counted.
func (js *JobService) ResumeInterrupted(ctx context.Context) (resumed, skipped int, err error) {
	jobs, err := js.store.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return 0, 0, err
	}
	for i := range jobs {
		job := jobs[i]
		if js.registry.Active(job.ID) {
			continue
		}
		handle, err := js.registry.Acquire(ctx, job.ID)
		if errors.Is(err, ErrJobAlreadyRunning) {
			skipped++
			js.metrics.ResumeSkipped.Inc()
			logger.Warn("Interrupted job is locked elsewhere, will retry", map[string]interface{}{"jobID": job.ID, "cursor": job.Cursor})
			continue
		}
		if err != nil {
			return resumed, skipped, err
		}
		full, err := js.store.Get(ctx, job.ID)
		if err != nil {
			handle.Release()
			return resumed, skipped, err
		}
		if full.Status != models.JobStatusRunning {
			// finished or canceled by the previous holder meanwhile
			handle.Release()
			continue
		}
		logger.Info("Resuming interrupted job", map[string]interface{}{"jobID": job.ID, "cursor": full.Cursor})
		js.wg.Add(1)
		go js.run(full, handle)
		resumed++
	}
	return resumed, skipped, nil
}

// WatchInterrupted calls ResumeInterrupted every interval until ctx ends, so
// jobs skipped at boot are picked up once their stale lock expires.
func (js *JobService) WatchInterrupted(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-js.ctx.Done():
			return
		case <-ticker.C:
			resumed, _, err := js.ResumeInterrupted(ctx)
			if err != nil {
				logger.Error("Failed to resume interrupted jobs", map[string]interface{}{"error": err.Error()})
				continue
			}
			if resumed > 0 {
				logger.Info("Resumed interrupted jobs", map[string]interface{}{"count": resumed})
			}
		}
	}
}

// Done returns a channel closed when the active run of id ends.
func (js *JobService) Done(id string) <-chan struct{} {
	return js.registry.Done(id)
}

// Shutdown stops every run loop at its next suspension point and waits for
// them. Stopped jobs stay running and are picked up by ResumeInterrupted.
func (js *JobService) Shutdown(ctx context.Context) error {
	js.cancel()
	done := make(chan struct{})
	go func() {
		js.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the row loop of one job. Rows are processed strictly in order and
// the cursor is persisted only after a row is fully stored.
func (js *JobService) run(job *models.Job, handle *RunHandle) {
	defer js.wg.Done()
	defer handle.Release()

	js.metrics.RunningJobs.Inc()
	defer js.metrics.RunningJobs.Dec()

	ctx := handle.Context(js.ctx)
	log := logger.WithJob(job.ID, job.Cursor)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Job run panicked: %v", r)
			js.fail(job.ID, fmt.Errorf("internal error: %v", r))
		}
	}()

	src, err := js.openSource(job.SourcePath)
	if err != nil {
		js.fail(job.ID, fmt.Errorf("failed to open source file: %w", err))
		return
	}
	total := src.Len()
	if total != job.TotalRows {
		if err := js.store.Update(ctx, job.ID, JobFields{"total_rows": total}); err != nil {
			js.fail(job.ID, err)
			return
		}
		job.TotalRows = total
	}

	log.Info("Job run started")
	for cursor := job.Cursor; cursor < total; {
		if !handle.KeepRunning() {
			log.WithField("cursor", cursor).Info("Job run stopped")
			return
		}
		if ctx.Err() != nil {
			log.WithField("cursor", cursor).Info("Job run interrupted")
			return
		}

		started := time.Now()
		rec, err := js.processRow(ctx, job, src, cursor)
		if err == nil {
			err = js.store.AppendRecord(ctx, job.ID, rec)
		}
		if err != nil {
			if ctx.Err() != nil {
				log.WithField("cursor", cursor).Info("Job run interrupted")
				return
			}
			js.fail(job.ID, err)
			return
		}

		cursor++
		fields := JobFields{
			"cursor":             cursor,
			"translate_progress": percent(cursor, total),
		}
		if job.PublishToCMS {
			fields["publish_cursor"] = cursor
			fields["publish_progress"] = percent(cursor, total)
		}
		if err := js.store.Update(ctx, job.ID, fields); err != nil {
			if ctx.Err() != nil {
				return
			}
			js.fail(job.ID, err)
			return
		}

		js.metrics.RowsProcessed.WithLabelValues(string(job.Kind)).Inc()
		js.metrics.RowDuration.Observe(time.Since(started).Seconds())
		js.emitUpdated(job.ID)
	}

	ok, err := js.store.Transition(ctx, job.ID, []models.JobStatus{models.JobStatusRunning}, JobFields{
		"status":             models.JobStatusCompleted,
		"translate_progress": 100,
	})
	if err != nil {
		log.WithError(err).Error("Failed to mark job completed")
		return
	}
	if ok {
		log.WithField("rows", total).Info("Job completed")
		js.emitUpdated(job.ID)
	}
}

// processRow localizes one row into every configured language.
func (js *JobService) processRow(ctx context.Context, job *models.Job, src RowSource, index int) (*models.TranslationRecord, error) {
	row, err := src.Row(index)
	if err != nil {
		return nil, err
	}
	cols := job.Columns
	rec := &models.TranslationRecord{
		Position:      index,
		RowKey:        row[cols.RowKey],
		OriginalTitle: row[cols.Title],
		Permalink:     locatorFor(row, cols),
		Variants:      make([]models.LocalizedVariant, 0, len(job.Languages)),
	}
	if cols.Body != "" && !job.GenerateOnly {
		rec.OriginalBody = row[cols.Body]
	}

	for i, lang := range job.Languages {
		v := models.LocalizedVariant{Language: lang}
		if v.Title, err = js.localize(ctx, rec.OriginalTitle, lang, OpTitle); err != nil {
			return nil, err
		}
		if job.GenerateOnly {
			v.Body, err = js.localize(ctx, rec.OriginalTitle, lang, OpGeneratedBody)
		} else {
			v.Body, err = js.localize(ctx, rec.OriginalBody, lang, OpBody)
		}
		if err != nil {
			return nil, err
		}
		if job.IncludeMetaDescription {
			if v.MetaDescription, err = js.localize(ctx, rec.OriginalTitle, lang, OpMetaDescription); err != nil {
				return nil, err
			}
		}
		rec.Variants = append(rec.Variants, v)

		if i == 0 && job.PublishToCMS {
			js.publishRow(ctx, job, rec, v)
		}
	}
	return rec, nil
}

func (js *JobService) localize(ctx context.Context, text, lang string, op Operation) (string, error) {
	if text == "" {
		return "", nil
	}
	out, err := js.localizer.Localize(ctx, text, lang, op)
	if err != nil {
		return "", fmt.Errorf("%s (%s): %w", op, lang, err)
	}
	return out, nil
}

// publishRow pushes the first language's variant to the CMS. Failures land in
// the job's failure log and never stop the row.
func (js *JobService) publishRow(ctx context.Context, job *models.Job, rec *models.TranslationRecord, v models.LocalizedVariant) {
	locator := rec.Permalink
	if locator == "" {
		locator = rec.RowKey
	}

	err := func() error {
		if js.publisher == nil {
			return errors.New("no CMS publisher configured")
		}
		if job.Domain == nil {
			return errors.New("job has no CMS credential")
		}
		res, err := js.publisher.Resolve(ctx, locator, job.Domain)
		if err != nil {
			return err
		}
		_, err = js.publisher.Publish(ctx, res, PublishFields{
			Title:           v.Title,
			Content:         v.Body,
			Excerpt:         v.MetaDescription,
			MetaDescription: v.MetaDescription,
		}, job.Domain)
		return err
	}()
	if err == nil {
		return
	}

	js.metrics.PublishFailures.Inc()
	logger.WithJob(job.ID, rec.Position).WithError(err).Warn("CMS publish failed")
	failure := &models.PublishFailure{
		JobID:     job.ID,
		Row:       rec.Position,
		TargetURL: locator,
		Message:   err.Error(),
	}
	if err := js.store.AppendFailure(ctx, failure); err != nil {
		logger.WithJob(job.ID, rec.Position).WithError(err).Error("Failed to record publish failure")
	}
}

// fail moves a running job to error. Quota exhaustion gets an actionable
// message, anything else is recorded verbatim.
func (js *JobService) fail(id string, cause error) {
	msg := cause.Error()
	if errors.Is(cause, ErrQuotaExhausted) {
		msg = QuotaExhaustedMessage
		js.metrics.QuotaExhausted.Inc()
	}
	js.registry.Set(id, false)

	// the run context may already be canceled; the status write must land
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok, err := js.store.Transition(ctx, id, []models.JobStatus{models.JobStatusRunning}, JobFields{
		"status":     models.JobStatusError,
		"last_error": msg,
	})
	if err != nil {
		logger.Error("Failed to update job status to error", map[string]interface{}{"jobID": id, "error": err})
		return
	}
	logger.Error("Job failed", map[string]interface{}{"jobID": id, "error": cause.Error()})
	if ok {
		js.emitUpdated(id)
	}
}

func (js *JobService) emitUpdated(id string) {
	job, err := js.store.Get(context.Background(), id)
	if err != nil {
		logger.Warn("Failed to load job for progress event", map[string]interface{}{"jobID": id, "error": err})
		return
	}
	js.events.Publish(Event{Type: EventUpdated, ID: id, Job: job})
}

// locatorFor picks the CMS locator of a row: permalink, then slug.
func locatorFor(row map[string]string, cols models.ColumnMapping) string {
	if cols.Permalink != "" && row[cols.Permalink] != "" {
		return row[cols.Permalink]
	}
	if cols.Slug != "" {
		return row[cols.Slug]
	}
	return ""
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return math.Round(float64(done)/float64(total)*10000) / 100
}
