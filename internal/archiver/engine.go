package archiver

import (
	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

// Engine 站点恢复引擎：围绕归档客户端实现巡检、分析、下载等长任务。
// 每个长循环在单元边界（一个变体、一行索引、一个文件）调用检查点，
// 暂停和停止都在这些边界生效。
type Engine struct {
	client    *wayback.Client
	resolver  *wayback.Resolver
	writer    *output.Writer
	manifests *repository.ManifestRepository
	jobsCfg   *config.JobsConfig
}

func NewEngine(
	client *wayback.Client,
	resolver *wayback.Resolver,
	writer *output.Writer,
	manifests *repository.ManifestRepository,
	jobsCfg *config.JobsConfig,
) *Engine {
	return &Engine{
		client:    client,
		resolver:  resolver,
		writer:    writer,
		manifests: manifests,
		jobsCfg:   jobsCfg,
	}
}

func (e *Engine) displayLimit(requested int) int {
	if requested > 0 {
		return requested
	}
	if e.jobsCfg != nil && e.jobsCfg.DefaultDisplayLimit > 0 {
		return e.jobsCfg.DefaultDisplayLimit
	}
	return 120
}

func (e *Engine) cdxLimit(requested int) int {
	if requested > 0 {
		return requested
	}
	if e.jobsCfg != nil && e.jobsCfg.DefaultCDXLimit > 0 {
		return e.jobsCfg.DefaultCDXLimit
	}
	return 12000
}

func (e *Engine) maxFiles(requested int) int {
	if requested > 0 {
		return requested
	}
	if e.jobsCfg != nil && e.jobsCfg.DefaultMaxFiles > 0 {
		return e.jobsCfg.DefaultMaxFiles
	}
	return 400
}

func (e *Engine) missingLimit(requested int) int {
	if requested > 0 {
		return requested
	}
	if e.jobsCfg != nil && e.jobsCfg.DefaultMissingLimit > 0 {
		return e.jobsCfg.DefaultMissingLimit
	}
	return 300
}

func (e *Engine) analyzeBatchSize(requested int) int {
	if requested > 0 {
		return requested
	}
	if e.jobsCfg != nil && e.jobsCfg.DefaultAnalyzeBatchSize > 0 {
		return e.jobsCfg.DefaultAnalyzeBatchSize
	}
	return 5
}
