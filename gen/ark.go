package gen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"S2V/models"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

// ArkConfig Ark 侧的生成参数，输出尺寸由配置固定，不随输入变化
type ArkConfig struct {
	BaseURL    string
	ImageModel string
	VideoModel string
	Size       string
	Watermark  bool
	Seed       int64
	Resolution string // 视频分辨率参数，如 720p
}

// ArkService 基于火山方舟实现首尾帧生成与视频合成任务
type ArkService struct {
	client *arkruntime.Client
	cfg    ArkConfig
}

func NewArkService(apiKey string, cfg ArkConfig) *ArkService {
	client := arkruntime.NewClientWithApiKey(
		apiKey,
		arkruntime.WithBaseUrl(cfg.BaseURL),
	)
	return &ArkService{client: client, cfg: cfg}
}

func (s *ArkService) SynthesizeStartFrame(ctx context.Context, prompt, referenceImage string) (string, models.UsageEvent, error) {
	// 参考图只作风格参照，不会被修改
	p := "以参考图为风格与构图参照，生成该分镜的首帧画面。" + prompt
	return s.generateImage(ctx, "start_frame", p, referenceImage)
}

func (s *ArkService) SynthesizeEndFrame(ctx context.Context, startFrame, narrative string, duration int) (string, models.UsageEvent, error) {
	// 尾帧要呈现动作完成后的结果，且必须与首帧有明显可见的区别
	p := fmt.Sprintf("以参考图为本分镜首帧，生成约 %d 秒动作完成之后的尾帧画面，画面必须与首帧有明显区别。动作：%s", duration, narrative)
	return s.generateImage(ctx, "end_frame", p, startFrame)
}

func (s *ArkService) RegenerateFrame(ctx context.Context, original, editInstruction, sceneContext string) (string, models.UsageEvent, error) {
	var p string
	if strings.TrimSpace(editInstruction) == "" {
		// 没有修改指令时给一个创意替代版本，而不是原样复刻
		p = "在保持角色与场景一致的前提下，给出这一帧的另一种创意构图。" + sceneContext
	} else {
		p = "按以下修改要求重绘这一帧：" + editInstruction + "。" + sceneContext
	}
	return s.generateImage(ctx, "regenerate", p, original)
}

func (s *ArkService) generateImage(ctx context.Context, op, prompt, referenceImage string) (string, models.UsageEvent, error) {
	generateReq := model.GenerateImagesRequest{
		Model:          s.cfg.ImageModel,
		Prompt:         prompt,
		Image:          referenceImage,
		Size:           volcengine.String(s.cfg.Size),
		ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
		Watermark:      volcengine.Bool(s.cfg.Watermark),
		Seed:           volcengine.Int64(s.cfg.Seed),
	}

	resp, err := s.client.GenerateImages(ctx, generateReq)
	if err != nil {
		return "", models.UsageEvent{}, Unavailable(op, err)
	}
	if resp.Error != nil {
		return "", models.UsageEvent{}, Refused(op, resp.Error.Message)
	}
	if len(resp.Data) == 0 || resp.Data[0].Url == nil {
		return "", models.UsageEvent{}, Refused(op, "图像生成返回空结果")
	}

	usage := models.UsageEvent{
		Service:   op,
		Model:     s.cfg.ImageModel,
		Unit:      "images",
		Amount:    resp.Usage.GeneratedImages,
		CreatedAt: time.Now().Unix(),
	}
	return *resp.Data[0].Url, usage, nil
}

// SubmitJob 提交视频合成任务，返回可轮询的任务句柄
func (s *ArkService) SubmitJob(ctx context.Context, prompt, startFrame string, duration int) (string, error) {
	const op = "video_submit"
	text := fmt.Sprintf("%s --resolution %s --duration %d", prompt, s.cfg.Resolution, duration)
	createReq := model.CreateContentGenerationTaskRequest{
		Model: s.cfg.VideoModel,
		Content: []*model.CreateContentGenerationContentItem{
			{
				Type: model.ContentGenerationContentItemTypeText,
				Text: volcengine.String(text),
			},
			{
				Type: model.ContentGenerationContentItemTypeImage,
				ImageURL: &model.ImageURL{
					URL: startFrame,
				},
			},
		},
	}

	createResponse, err := s.client.CreateContentGenerationTask(ctx, createReq)
	if err != nil {
		return "", Unavailable(op, err)
	}
	return createResponse.ID, nil
}

// PollJob 查询任务当前状态
func (s *ArkService) PollJob(ctx context.Context, handle string) (JobState, error) {
	const op = "video_poll"
	req := model.GetContentGenerationTaskRequest{}
	req.ID = handle

	resp, err := s.client.GetContentGenerationTask(ctx, req)
	if err != nil {
		return JobState{}, Unavailable(op, err)
	}

	switch strings.ToLower(string(resp.Status)) {
	case "succeeded":
		return JobState{Status: JobDone, VideoURL: resp.Content.VideoURL}, nil
	case "failed", "cancelled":
		return JobState{}, FailedJob(op, fmt.Sprintf("视频合成任务 %s 执行失败", handle))
	default:
		// queued / running
		return JobState{Status: JobPending}, nil
	}
}
