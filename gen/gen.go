package gen

import (
	"context"

	"S2V/models"
)

// 视频任务轮询结果状态
const (
	JobPending = "pending"
	JobDone    = "done"
	JobError   = "error"
)

// RawScene 拆解服务的原始输出，JSON 契约，钳制与校验由调用方负责
type RawScene struct {
	Description       string   `json:"description"`
	Narrative         string   `json:"narrative"`
	DurationSeconds   float64  `json:"duration_seconds"`
	SourcePageIndex   int      `json:"source_page_index"`
	CharactersInScene []string `json:"characters_in_scene"`
}

// Recommendation 模型推荐结果
type Recommendation struct {
	Model     string `json:"model"`
	Reasoning string `json:"reasoning"`
}

// JobState 视频任务的一次轮询快照
type JobState struct {
	Status   string // pending/done/error
	VideoURL string // 仅 done 时有值
	Message  string // 仅 error 时有值
}

// GenerationService 生成服务最小接口，屏蔽具体 AI 提供方
type GenerationService interface {
	DecomposeScenes(ctx context.Context, pages []models.PageImage, characters []models.Character) ([]RawScene, models.UsageEvent, error)
	RecommendModel(ctx context.Context, description, narrative string) (Recommendation, models.UsageEvent, error)
	SynthesizeStartFrame(ctx context.Context, prompt, referenceImage string) (string, models.UsageEvent, error)
	SynthesizeEndFrame(ctx context.Context, startFrame, narrative string, duration int) (string, models.UsageEvent, error)
	RegenerateFrame(ctx context.Context, original, editInstruction, sceneContext string) (string, models.UsageEvent, error)
}

// VideoService 长耗时视频合成任务接口：提交后拿句柄轮询
type VideoService interface {
	SubmitJob(ctx context.Context, prompt, startFrame string, duration int) (string, error)
	PollJob(ctx context.Context, handle string) (JobState, error)
}

// UsageLedger 用量事件落库接口，fire-and-forget
type UsageLedger interface {
	Record(e models.UsageEvent)
}

// Service 组合 Gemini（拆解/推荐）与 Ark（帧生成/视频任务），
// 同时满足 GenerationService 与 VideoService
type Service struct {
	*GeminiService
	*ArkService
}

func NewService(g *GeminiService, a *ArkService) *Service {
	return &Service{GeminiService: g, ArkService: a}
}
