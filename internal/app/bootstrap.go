package app

import "time"

// 构建期注入的版本信息（go build -ldflags "-X ..."）。
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Config 存放应用级默认路径与评估参数。
type Config struct {
	DBPath      string
	CatalogPath string

	// 评估执行参数，按需覆盖。
	CheckTimeout time.Duration // 单条 GAM 命令超时
	CheckRetries int           // 瞬时失败重试次数
	Workers      int           // 并发执行器上限
}

// DefaultConfig 返回本地环境的默认配置。
func DefaultConfig() Config {
	return Config{
		DBPath:       "data/assessor.db",
		CatalogPath:  "catalog/scuba_baselines.template.yaml",
		CheckTimeout: 30 * time.Second,
		CheckRetries: 3,
		Workers:      10,
	}
}
