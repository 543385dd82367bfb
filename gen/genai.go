package gen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"S2V/models"

	"google.golang.org/genai"
)

const decomposePrompt = `#角色
你是一位专业且经验丰富的影视分镜师，擅长把静态页面图像拆解成可动画化的分镜序列。
#任务
阅读给出的整批页面图像（按顺序编号，第一张为第 0 页）和角色表，把故事拆成有序的分镜列表：
每个叙事节拍对应一个分镜。每个分镜必须标注它来源于哪一页（source_page_index）。
characters_in_scene 只允许使用角色表中出现的名字。
duration_seconds 为该分镜动画时长的建议值（秒）。
#输出
只输出 JSON 数组，每个元素包含字段：
description（画面内容描述）、narrative（该分镜内发生的动作/叙事）、
duration_seconds（数字）、source_page_index（数字）、characters_in_scene（字符串数组）。`

const recommendPrompt = `#角色
你是视频生成模型的选型专家。根据分镜的画面描述和叙事动作，从候选模型中选出最合适的一个并说明理由。
候选模型：%s
#输出
只输出 JSON 对象：{"model": "<候选之一>", "reasoning": "<一句话理由>"}
分镜描述：%s
叙事动作：%s`

// GeminiService 基于 Gemini 多模态实现分镜拆解与模型推荐
type GeminiService struct {
	model    string
	backends []string
}

func NewGeminiService(model string, backends []string) *GeminiService {
	return &GeminiService{model: model, backends: backends}
}

func (g *GeminiService) DecomposeScenes(ctx context.Context, pages []models.PageImage, characters []models.Character) ([]RawScene, models.UsageEvent, error) {
	const op = "decompose"
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, models.UsageEvent{}, Unavailable(op, err)
	}

	var roster strings.Builder
	roster.WriteString("#角色表\n")
	for _, c := range characters {
		fmt.Fprintf(&roster, "- %s：%s\n", c.Name, c.Description)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(decomposePrompt),
		genai.NewPartFromText(roster.String()),
	}
	for _, p := range pages {
		mime := p.MIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromURI(p.URL, mime))
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, models.UsageEvent{}, Unavailable(op, err)
	}
	if result == nil || result.Text() == "" {
		return nil, models.UsageEvent{}, Refused(op, "拆解服务返回空结果")
	}

	var raw []RawScene
	if err := json.Unmarshal([]byte(result.Text()), &raw); err != nil {
		return nil, models.UsageEvent{}, InvalidResult(op, err)
	}
	if len(raw) == 0 {
		return nil, models.UsageEvent{}, Refused(op, "拆解服务未识别出任何分镜")
	}

	return raw, usageEvent("decompose", g.model, result), nil
}

func (g *GeminiService) RecommendModel(ctx context.Context, description, narrative string) (Recommendation, models.UsageEvent, error) {
	const op = "recommend"
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return Recommendation{}, models.UsageEvent{}, Unavailable(op, err)
	}

	prompt := fmt.Sprintf(recommendPrompt, strings.Join(g.backends, "、"), description, narrative)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Recommendation{}, models.UsageEvent{}, Unavailable(op, err)
	}
	if result == nil || result.Text() == "" {
		return Recommendation{}, models.UsageEvent{}, Refused(op, "推荐服务返回空结果")
	}

	var rec Recommendation
	if err := json.Unmarshal([]byte(result.Text()), &rec); err != nil {
		return Recommendation{}, models.UsageEvent{}, InvalidResult(op, err)
	}
	if rec.Model == "" {
		return Recommendation{}, models.UsageEvent{}, InvalidResult(op, fmt.Errorf("推荐结果缺少 model 字段"))
	}

	return rec, usageEvent("recommend", g.model, result), nil
}

func usageEvent(service, model string, result *genai.GenerateContentResponse) models.UsageEvent {
	e := models.UsageEvent{
		Service:   service,
		Model:     model,
		Unit:      "tokens",
		CreatedAt: time.Now().Unix(),
	}
	if result.UsageMetadata != nil {
		e.Amount = int64(result.UsageMetadata.TotalTokenCount)
	}
	return e
}
