package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobConfig 定义单个预取任务的配置
type JobConfig struct {
	Name     string                 `yaml:"name" json:"name"`
	Enabled  bool                   `yaml:"enabled" json:"enabled"`
	Schedule string                 `yaml:"schedule" json:"schedule"`
	Method   string                 `yaml:"method" json:"method"`
	Args     []interface{}          `yaml:"args" json:"args"`
	Kwargs   map[string]interface{} `yaml:"kwargs,omitempty" json:"kwargs,omitempty"`
	Timeout  time.Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Output   *OutputConfig          `yaml:"output,omitempty" json:"output,omitempty"`
}

// OutputConfig 定义结果输出配置
type OutputConfig struct {
	Type   string `yaml:"type" json:"type"`
	Stream string `yaml:"stream,omitempty" json:"stream,omitempty"`
}

// JobsConfig 定义整个任务配置文件结构
type JobsConfig struct {
	Jobs []JobConfig `yaml:"jobs" json:"jobs"`
}

// Job 表示一个已登记的任务
type Job struct {
	ID         string
	Config     JobConfig
	EntryID    cron.EntryID
	Status     JobStatus
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusError    JobStatus = "error"
	JobStatusDisabled JobStatus = "disabled"
)

// JobExecutor 任务执行器接口
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// JobExecutorFunc 函数形式的任务执行器
type JobExecutorFunc func(ctx context.Context, job *Job) error

// Execute 实现 JobExecutor
func (f JobExecutorFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// JobScheduler 任务调度器接口
type JobScheduler interface {
	LoadConfig(configPath string) error
	Start() error
	Stop() error
	AddJob(config JobConfig) error
	RemoveJob(jobName string) error
	GetJob(jobName string) (*Job, error)
	GetAllJobs() []*Job
	RunJob(jobName string) error
	SetExecutor(executor JobExecutor)
}
