package model

import "errors"

// 评估流程的可判别错误类别，调用方用 errors.Is 区分处理。
var (
	// ErrCatalogUnavailable 基线目录不可读，整次评估终止。
	ErrCatalogUnavailable = errors.New("baseline catalog unavailable")
	// ErrExecutionFailure 外部检查命令执行失败。
	ErrExecutionFailure = errors.New("check execution failure")
	// ErrUnsupportedCheckType 基线声明了未知的检查方式。
	ErrUnsupportedCheckType = errors.New("unsupported check type")
	// ErrPersistenceWriteFailure 结果落库失败。
	ErrPersistenceWriteFailure = errors.New("persistence write failure")
)
