package scheduler

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wbrx/wayback_go_server/internal/pkg/pubsub"
	"github.com/wbrx/wayback_go_server/internal/pkg/ws"
	"github.com/wbrx/wayback_go_server/internal/repository"
)

// 任务状态
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateDone     State = "done"
	StateError    State = "error"
)

// IsTerminal 是否终态
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateError
}

var (
	ErrBusy        = errors.New("并发任务已达上限")
	ErrJobNotFound = errors.New("任务不存在")
	ErrConflict    = errors.New("任务状态不允许该操作")
	// ErrStopped 由处理函数在检查点收到停止信号后返回；
	// 调度器把它视为携带部分结果的正常完成
	ErrStopped = errors.New("任务被停止")
)

// Progress 任务进度快照
type Progress struct {
	Stage          string  `json:"stage"`
	Percent        float64 `json:"percent"`
	CurrentItem    string  `json:"current_item,omitempty"`
	Done           int     `json:"done"`
	Total          int     `json:"total"`
	Message        string  `json:"message,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// HandlerFunc 任务处理函数。长循环内必须定期调用 ctl.Checkpoint，
// 收到 ErrStopped 时应整理部分结果后原样返回。
type HandlerFunc func(ctx context.Context, ctl *Control) (interface{}, error)

type job struct {
	id        string
	kind      string
	targetURL string
	snapshot  string

	mu         sync.Mutex
	state      State
	progress   Progress
	result     interface{}
	errMsg     string
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
}

// JobStatus 对外暴露的任务快照
type JobStatus struct {
	JobID      string      `json:"job_id"`
	Kind       string      `json:"kind"`
	TargetURL  string      `json:"target_url"`
	Snapshot   string      `json:"snapshot,omitempty"`
	State      State       `json:"state"`
	Progress   Progress    `json:"progress"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Scheduler 进程内任务调度器。
// 同时处于 pending/running/paused/stopping 的任务数不超过 maxActive，
// 超限的提交立即返回 ErrBusy 而不是排队。
type Scheduler struct {
	mu        sync.Mutex
	jobs      map[string]*job
	maxActive int

	pausePollInterval time.Duration

	history   *repository.JobRepository // 可选，终态任务写历史
	publisher *pubsub.Publisher         // 可选，Redis 进度广播
	hub       *ws.Hub                   // 可选，WebSocket 推送
}

type Option func(*Scheduler)

func WithHistory(repo *repository.JobRepository) Option {
	return func(s *Scheduler) { s.history = repo }
}

func WithPublisher(p *pubsub.Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

func WithHub(h *ws.Hub) Option {
	return func(s *Scheduler) { s.hub = h }
}

func New(maxActive int, opts ...Option) *Scheduler {
	if maxActive < 1 {
		maxActive = 4
	}
	s := &Scheduler{
		jobs:              make(map[string]*job),
		maxActive:         maxActive,
		pausePollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ActiveCount 当前占用槽位的任务数
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked()
}

func (s *Scheduler) activeCountLocked() int {
	n := 0
	for _, j := range s.jobs {
		j.mu.Lock()
		if !j.state.IsTerminal() {
			n++
		}
		j.mu.Unlock()
	}
	return n
}

// Submit 提交任务。槽位占满时返回 ErrBusy。
func (s *Scheduler) Submit(ctx context.Context, kind, targetURL, snapshot string, handler HandlerFunc) (*JobStatus, error) {
	s.mu.Lock()
	if s.activeCountLocked() >= s.maxActive {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	j := &job{
		id:        newJobID(),
		kind:      kind,
		targetURL: targetURL,
		snapshot:  snapshot,
		state:     StatePending,
		createdAt: time.Now(),
		progress:  Progress{Stage: pubsub.StageQueued},
	}
	s.jobs[j.id] = j
	s.mu.Unlock()

	go s.run(ctx, j, handler)
	return s.snapshotOf(j), nil
}

func (s *Scheduler) run(ctx context.Context, j *job, handler HandlerFunc) {
	j.mu.Lock()
	// 等待期间就被停止的任务不再执行，直接按停止收尾
	stopped := j.state == StateStopping
	if !stopped {
		j.state = StateRunning
	}
	j.startedAt = time.Now()
	j.mu.Unlock()
	s.publish(j)

	ctl := &Control{scheduler: s, job: j}
	var result interface{}
	err := ErrStopped
	if !stopped {
		result, err = handler(ctx, ctl)
	}

	j.mu.Lock()
	j.finishedAt = time.Now()
	j.result = result
	switch {
	case err == nil || errors.Is(err, ErrStopped):
		// 停止视为带部分结果的完成
		j.state = StateDone
		j.progress.Percent = 100
		j.progress.Stage = pubsub.StageDone
	default:
		j.state = StateError
		j.errMsg = err.Error()
	}
	j.progress.ElapsedSeconds = j.finishedAt.Sub(j.startedAt).Seconds()
	state := j.state
	errMsg := j.errMsg
	j.mu.Unlock()

	s.publish(j)

	if s.history != nil {
		if recErr := s.history.Record(j.id, j.kind, j.targetURL, j.snapshot, string(state), result, errMsg); recErr != nil {
			log.Printf("record job %s history failed: %v", j.id, recErr)
		}
	}
}

func (s *Scheduler) get(jobID string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (s *Scheduler) snapshotOf(j *job) *JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := &JobStatus{
		JobID:     j.id,
		Kind:      j.kind,
		TargetURL: j.targetURL,
		Snapshot:  j.snapshot,
		State:     j.state,
		Progress:  j.progress,
		Result:    j.result,
		Error:     j.errMsg,
		CreatedAt: j.createdAt,
	}
	if !j.startedAt.IsZero() && j.finishedAt.IsZero() {
		status.Progress.ElapsedSeconds = time.Since(j.startedAt).Seconds()
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		status.FinishedAt = &t
	}
	return status
}

// Status 查询任务状态
func (s *Scheduler) Status(jobID string) (*JobStatus, error) {
	j, err := s.get(jobID)
	if err != nil {
		return nil, err
	}
	return s.snapshotOf(j), nil
}

// List 全部在内存中的任务
func (s *Scheduler) List() []*JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]*JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, s.snapshotOf(j))
	}
	return out
}

// Pause 暂停运行中的任务；重复暂停是无害的空操作
func (s *Scheduler) Pause(jobID string) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StateRunning:
		j.state = StatePaused
		return nil
	case StatePaused:
		return nil
	default:
		return ErrConflict
	}
}

// Resume 恢复暂停的任务；重复恢复是无害的空操作
func (s *Scheduler) Resume(jobID string) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StatePaused:
		j.state = StateRunning
		return nil
	case StateRunning:
		return nil
	default:
		return ErrConflict
	}
}

// Stop 请求停止任务。对暂停中的任务同样生效（停止优先于暂停）。
// 处理函数在下一个检查点收到信号后结束。
func (s *Scheduler) Stop(jobID string) error {
	j, err := s.get(jobID)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.state {
	case StatePending, StateRunning, StatePaused:
		j.state = StateStopping
		return nil
	case StateStopping:
		return nil
	default:
		return ErrConflict
	}
}

// Sweep 清理终态超过保留期的任务，返回清理数量
func (s *Scheduler) Sweep(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.jobs {
		j.mu.Lock()
		expired := j.state.IsTerminal() && !j.finishedAt.IsZero() && j.finishedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *Scheduler) publish(j *job) {
	if s.publisher == nil && s.hub == nil {
		return
	}

	j.mu.Lock()
	msg := &pubsub.ProgressMessage{
		JobID:       j.id,
		Kind:        j.kind,
		TargetURL:   j.targetURL,
		State:       string(j.state),
		Stage:       j.progress.Stage,
		Percent:     j.progress.Percent,
		CurrentItem: j.progress.CurrentItem,
		Done:        j.progress.Done,
		Total:       j.progress.Total,
		Message:     j.progress.Message,
		Error:       j.errMsg,
	}
	j.mu.Unlock()

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.publisher.PublishProgress(ctx, msg); err != nil {
			log.Printf("publish progress for job %s failed: %v", j.id, err)
		}
		cancel()
	}
	if s.hub != nil {
		s.hub.SendToJob(j.id, &ws.Message{Type: "job_progress", Data: msg})
	}
}

// Control 交给处理函数的控制句柄
type Control struct {
	scheduler *Scheduler
	job       *job
}

// JobID 当前任务 ID
func (c *Control) JobID() string {
	return c.job.id
}

// Checkpoint 协作式控制点。暂停时在此阻塞（0.5s 轮询），
// 收到停止信号或 ctx 取消时返回非 nil。
func (c *Control) Checkpoint(ctx context.Context) error {
	for {
		c.job.mu.Lock()
		state := c.job.state
		c.job.mu.Unlock()

		switch state {
		case StateStopping:
			return ErrStopped
		case StatePaused:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.scheduler.pausePollInterval):
			}
		default:
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
	}
}

// SetProgress 更新进度。百分比压到 [0,100] 且不回退。
func (c *Control) SetProgress(p Progress) {
	c.job.mu.Lock()
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	if p.Percent < c.job.progress.Percent {
		p.Percent = c.job.progress.Percent
	}
	if p.CurrentItem == "" {
		p.CurrentItem = c.job.progress.CurrentItem
	}
	if !c.job.startedAt.IsZero() {
		p.ElapsedSeconds = time.Since(c.job.startedAt).Seconds()
	}
	c.job.progress = p
	c.job.mu.Unlock()

	c.scheduler.publish(c.job)
}
