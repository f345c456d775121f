package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/titlesync/backend/internal/models"
	"gorm.io/gorm"
)

// JobFields is a partial update of a job's scalar run state, keyed by column
// name (status, cursor, total_rows, translate_progress, publish_cursor,
// publish_progress, last_error).
type JobFields map[string]interface{}

// JobStore persists jobs, their segmented records and their publish failures.
type JobStore struct {
	db    *gorm.DB
	locks sync.Map // job id -> *sync.Mutex
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create inserts job together with its domain credential, if any.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job.SegmentSize < 1 {
		return fmt.Errorf("%w: segment size must be positive", ErrValidation)
	}
	if job.SegmentIDs == nil {
		job.SegmentIDs = []string{}
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Get loads a job with its domain and failure count.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Preload("Domain").First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if job.FailureCount, err = s.CountFailures(ctx, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns every job, newest first.
func (s *JobStore) List(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).Preload("Domain").Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	var counts []struct {
		JobID string
		Total int64
	}
	if err := s.db.WithContext(ctx).Model(&models.PublishFailure{}).
		Select("job_id, COUNT(*) AS total").Group("job_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("failed to count publish failures: %w", err)
	}
	byJob := make(map[string]int64, len(counts))
	for _, c := range counts {
		byJob[c.JobID] = c.Total
	}
	for i := range jobs {
		jobs[i].FailureCount = byJob[jobs[i].ID]
	}
	return jobs, nil
}

// ListByStatus returns the jobs currently in status.
func (s *JobStore) ListByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	return jobs, nil
}

// Update applies fields in a single statement without touching records.
func (s *JobStore) Update(ctx context.Context, id string, fields JobFields) error {
	if len(fields) == 0 {
		return nil
	}
	unlock := s.lock(id)
	defer unlock()

	res := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(map[string]interface{}(fields))
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Transition applies fields only while the job's status is one of from.
// It reports false when the job exists but is in another status.
func (s *JobStore) Transition(ctx context.Context, id string, from []models.JobStatus, fields JobFields) (bool, error) {
	unlock := s.lock(id)
	defer unlock()

	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}(fields))
	if res.Error != nil {
		return false, fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if n == 0 {
		return false, ErrJobNotFound
	}
	return false, nil
}

// AppendRecord stores rec in the job's open slot. A record already stored for
// the same position is overwritten in place, so replaying a row after a crash
// never duplicates it. Records in a closed slot are never rewritten: a replay
// of such a position keeps the stored record. When the open slot is full a new
// segment is opened first; a segment is closed as soon as it reaches the
// threshold.
func (s *JobStore) AppendRecord(ctx context.Context, jobID string, rec *models.TranslationRecord) error {
	unlock := s.lock(jobID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		err := tx.Select("id", "segment_size", "inline_count", "segment_ids").First(&job, "id = ?", jobID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", jobID, err)
		}

		var existing models.TranslationRecord
		err = tx.Where("job_id = ? AND position = ?", jobID, rec.Position).Limit(1).Find(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to look up record %d: %w", rec.Position, err)
		}
		if existing.ID != 0 {
			closed, err := slotClosed(tx, &job, existing.SegmentID)
			if err != nil {
				return err
			}
			if closed {
				return nil
			}
			rec.ID = existing.ID
			rec.JobID = jobID
			rec.SegmentID = existing.SegmentID
			rec.CreatedAt = existing.CreatedAt
			if err := tx.Save(rec).Error; err != nil {
				return fmt.Errorf("failed to overwrite record %d: %w", rec.Position, err)
			}
			return nil
		}

		slot, count, err := openSlot(tx, &job)
		if err != nil {
			return err
		}
		if count >= job.SegmentSize {
			if slot != "" {
				if err := tx.Model(&models.Segment{}).Where("id = ?", slot).Update("closed", true).Error; err != nil {
					return fmt.Errorf("failed to close segment %s: %w", slot, err)
				}
			}
			seg := models.Segment{
				ID:    models.SegmentID(jobID, len(job.SegmentIDs)+1),
				JobID: jobID,
				Seq:   len(job.SegmentIDs) + 1,
			}
			if err := tx.Create(&seg).Error; err != nil {
				return fmt.Errorf("failed to open segment %s: %w", seg.ID, err)
			}
			job.SegmentIDs = append(job.SegmentIDs, seg.ID)
			if err := tx.Model(&models.Job{ID: jobID}).Select("SegmentIDs").Updates(&models.Job{SegmentIDs: job.SegmentIDs}).Error; err != nil {
				return fmt.Errorf("failed to record segment %s on job: %w", seg.ID, err)
			}
			slot, count = seg.ID, 0
		}

		rec.ID = 0
		rec.JobID = jobID
		rec.SegmentID = slot
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to append record %d: %w", rec.Position, err)
		}

		if slot == "" {
			return tx.Model(&models.Job{}).Where("id = ?", jobID).
				UpdateColumn("inline_count", gorm.Expr("inline_count + 1")).Error
		}
		return tx.Model(&models.Segment{}).Where("id = ?", slot).Updates(map[string]interface{}{
			"record_count": count + 1,
			"closed":       count+1 >= job.SegmentSize,
		}).Error
	})
}

// slotClosed reports whether the slot holding a stored record is sealed. The
// inline slot is sealed once it is full or a segment has been opened.
func slotClosed(tx *gorm.DB, job *models.Job, segmentID string) (bool, error) {
	if segmentID == "" {
		return len(job.SegmentIDs) > 0 || job.InlineCount >= job.SegmentSize, nil
	}
	var seg models.Segment
	if err := tx.Select("id", "closed").First(&seg, "id = ?", segmentID).Error; err != nil {
		return false, fmt.Errorf("failed to load segment %s: %w", segmentID, err)
	}
	return seg.Closed, nil
}

// openSlot returns the segment currently appended to ("" for the inline
// slot) and how many records it holds.
func openSlot(tx *gorm.DB, job *models.Job) (string, int, error) {
	if len(job.SegmentIDs) == 0 {
		return "", job.InlineCount, nil
	}
	var seg models.Segment
	last := job.SegmentIDs[len(job.SegmentIDs)-1]
	if err := tx.First(&seg, "id = ?", last).Error; err != nil {
		return "", 0, fmt.Errorf("failed to load segment %s: %w", last, err)
	}
	return seg.ID, seg.RecordCount, nil
}

// Segments returns the job's segments in creation order.
func (s *JobStore) Segments(ctx context.Context, jobID string) ([]models.Segment, error) {
	var segs []models.Segment
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("seq").Find(&segs).Error; err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	return segs, nil
}

// Records returns the inline slot followed by every segment in creation
// order, each ordered by row position.
func (s *JobStore) Records(ctx context.Context, jobID string) ([]models.TranslationRecord, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Select("id", "segment_ids").First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var records []models.TranslationRecord
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	order := map[string]int{"": 0}
	for i, id := range job.SegmentIDs {
		order[id] = i + 1
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := order[records[i].SegmentID], order[records[j].SegmentID]
		if a != b {
			return a < b
		}
		return records[i].Position < records[j].Position
	})
	return records, nil
}

// AppendFailure adds an entry to the job's publish failure log.
func (s *JobStore) AppendFailure(ctx context.Context, failure *models.PublishFailure) error {
	if err := s.db.WithContext(ctx).Create(failure).Error; err != nil {
		return fmt.Errorf("failed to record publish failure: %w", err)
	}
	return nil
}

func (s *JobStore) Failures(ctx context.Context, jobID string) ([]models.PublishFailure, error) {
	var failures []models.PublishFailure
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id").Find(&failures).Error; err != nil {
		return nil, fmt.Errorf("failed to list publish failures: %w", err)
	}
	return failures, nil
}

func (s *JobStore) CountFailures(ctx context.Context, jobID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.PublishFailure{}).Where("job_id = ?", jobID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count publish failures: %w", err)
	}
	return n, nil
}

// Delete removes the job and everything it owns.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&models.TranslationRecord{},
			&models.Segment{},
			&models.PublishFailure{},
			&models.Domain{},
		} {
			if err := tx.Where("job_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&models.Job{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}
		return nil
	})
	if errors.Is(err, ErrJobNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	s.locks.Delete(id)
	return nil
}
