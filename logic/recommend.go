package logic

import (
	"context"

	"S2V/gen"

	"go.uber.org/zap"
)

// ModelRecommender 为分镜挑选目标视频后端。
// 推荐失败不是分镜级错误：回退到第一个配置的后端继续往下走。
type ModelRecommender struct {
	svc      gen.GenerationService
	ledger   gen.UsageLedger
	backends []string
}

func NewModelRecommender(svc gen.GenerationService, ledger gen.UsageLedger, backends []string) *ModelRecommender {
	return &ModelRecommender{svc: svc, ledger: ledger, backends: backends}
}

// Recommend 返回 (模型, 理由)，永远不返回错误
func (r *ModelRecommender) Recommend(ctx context.Context, description, narrative string) (string, string) {
	rec, usage, err := r.svc.RecommendModel(ctx, description, narrative)
	if err != nil {
		zap.L().Warn("模型推荐失败，回退到默认后端",
			zap.String("fallback", r.backends[0]), zap.Error(err))
		return r.backends[0], "推荐服务暂不可用，已回退到默认模型"
	}
	// 调用已经成功并产生了 token 消耗，即使结果不可用也要记账
	if r.ledger != nil {
		r.ledger.Record(usage)
	}
	if !r.isKnown(rec.Model) {
		// 推荐了配置之外的模型，同样按回退处理
		zap.L().Warn("推荐了未配置的后端，回退到默认后端",
			zap.String("recommended", rec.Model), zap.String("fallback", r.backends[0]))
		return r.backends[0], "推荐结果不在可用模型列表中，已回退到默认模型"
	}
	return rec.Model, rec.Reasoning
}

func (r *ModelRecommender) isKnown(model string) bool {
	for _, b := range r.backends {
		if b == model {
			return true
		}
	}
	return false
}
