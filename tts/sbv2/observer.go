package sbv2

import "time"

// 流水线阶段
const (
	StageNormalize = "normalize"
	StagePhonemize = "phonemize"
	StageEmbed     = "embed"
	StageInfer     = "infer"
	StageEncode    = "encode"
)

// Observer 流水线指标回调
type Observer interface {
	PoolObserver
	ObserveStage(stage string, d time.Duration)
	ObservePhonemes(n int)
}
