package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wbrx/wayback_go_server/config"
	"github.com/wbrx/wayback_go_server/internal/database"
	"github.com/wbrx/wayback_go_server/internal/model"
	"github.com/wbrx/wayback_go_server/internal/output"
	"github.com/wbrx/wayback_go_server/internal/repository"
	"github.com/wbrx/wayback_go_server/internal/wayback"
)

var (
	dryRun      = flag.Bool("dry-run", true, "Dry run mode, don't actually delete anything")
	pruneDB     = flag.Bool("prune-db", true, "Prune expired cache entries and job history")
	cleanOutput = flag.Bool("clean-output", true, "Report/remove output dirs with no matching project")
)

func main() {
	flag.Parse()

	log.Println("Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	var prunedCache, prunedJobs int64
	if *pruneDB {
		cacheRetention := time.Duration(cfg.Retention.DBCacheRetentionSeconds) * time.Second
		jobsRetention := time.Duration(cfg.Retention.DBJobsRetentionSeconds) * time.Second
		if cacheRetention <= 0 {
			cacheRetention = 14 * 24 * time.Hour
		}
		if jobsRetention <= 0 {
			jobsRetention = 7 * 24 * time.Hour
		}

		log.Printf("Pruning cache entries older than %v and job records older than %v...",
			cacheRetention, jobsRetention)
		if *dryRun {
			log.Println("  (dry run, counting only)")
			db.Model(&model.CacheEntry{}).
				Where("created_at < ?", time.Now().Add(-cacheRetention)).Count(&prunedCache)
			db.Model(&model.JobRecord{}).
				Where("created_at < ? AND state IN ?", time.Now().Add(-jobsRetention),
					[]string{"done", "error"}).Count(&prunedJobs)
		} else {
			cacheRepo := repository.NewCacheRepository(db)
			jobRepo := repository.NewJobRepository(db)
			if prunedCache, err = cacheRepo.PruneOlderThan(cacheRetention); err != nil {
				log.Printf("  Failed to prune cache: %v", err)
			}
			if prunedJobs, err = jobRepo.PruneOlderThan(jobsRetention); err != nil {
				log.Printf("  Failed to prune job history: %v", err)
			}
		}
	}

	var staleDirs int
	var staleSize int64
	if *cleanOutput {
		log.Println("Scanning output root for orphaned site dirs...")
		staleSize, staleDirs = cleanOrphanedOutput(db, &cfg.Output, *dryRun)
	}

	log.Println(strings.Repeat("=", 60))
	log.Println("Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Cache entries pruned: %d", prunedCache)
	log.Printf("Job records pruned: %d", prunedJobs)
	log.Printf("Orphaned output dirs: %d (%s)", staleDirs, formatSize(staleSize))
	if *dryRun {
		log.Println("DRY RUN MODE - nothing was actually deleted")
		log.Println("Run with -dry-run=false to apply")
	} else {
		log.Println("Cleanup completed")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanOrphanedOutput 找出没有对应项目记录的站点输出目录。
// 目录名约定为 <host-slug>_<snapshot>，slug 对不上任何项目即视为孤儿。
func cleanOrphanedOutput(db *gorm.DB, cfg *config.OutputConfig, dryRun bool) (int64, int) {
	rootDir := cfg.RootDir
	if rootDir == "" {
		rootDir = "output"
	}

	var projects []model.Project
	if err := db.Find(&projects).Error; err != nil {
		log.Printf("  Failed to list projects: %v", err)
		return 0, 0
	}
	known := map[string]struct{}{}
	for _, p := range projects {
		if slug := output.HostSlug(wayback.Host(p.TargetURL)); slug != "" {
			known[slug] = struct{}{}
		}
	}

	entries, err := os.ReadDir(rootDir)
	if err != nil {
		log.Printf("  Failed to read output root %s: %v", rootDir, err)
		return 0, 0
	}

	var totalSize int64
	var count int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		slug := name
		if idx := strings.LastIndex(name, "_"); idx > 0 {
			slug = name[:idx]
		}
		if _, ok := known[slug]; ok {
			continue
		}

		dirPath := filepath.Join(rootDir, name)
		size := getDirSize(dirPath)
		totalSize += size
		count++
		log.Printf("  - %s (%s, no matching project)", name, formatSize(size))

		if !dryRun {
			if err := os.RemoveAll(dirPath); err != nil {
				log.Printf("    Failed to delete: %v", err)
			}
		}
	}
	return totalSize, count
}

// getDirSize 计算目录大小
func getDirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// formatSize 格式化文件大小
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
