package repository

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Record 写入一条任务历史（任务终态时调用）
func (r *JobRepository) Record(jobID, kind, targetURL, snapshot, state string, summary interface{}, errMsg string) error {
	summaryJSON := "{}"
	if summary != nil {
		if data, err := json.Marshal(summary); err == nil {
			summaryJSON = string(data)
		}
	}
	now := time.Now()
	rec := &model.JobRecord{
		JobID:       jobID,
		Kind:        kind,
		TargetURL:   NormalizeTargetURL(targetURL),
		Snapshot:    snapshot,
		State:       state,
		SummaryJSON: summaryJSON,
		Error:       errMsg,
		FinishedAt:  &now,
	}
	return r.db.Create(rec).Error
}

func (r *JobRepository) GetByJobID(jobID string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := r.db.Where("job_id = ?", jobID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecent 最近任务历史
func (r *JobRepository) ListRecent(limit int) ([]*model.JobRecord, error) {
	if limit < 1 {
		limit = 12
	}
	var recs []*model.JobRecord
	err := r.db.Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// PruneOlderThan 删除早于保留期的终态任务历史
func (r *JobRepository) PruneOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := r.db.Where("created_at < ? AND state IN ?", cutoff, []string{"done", "error"}).
		Delete(&model.JobRecord{})
	return res.RowsAffected, res.Error
}
