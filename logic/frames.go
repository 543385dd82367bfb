package logic

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"S2V/gen"
	"S2V/models"
	"S2V/util"
)

// FrameSynthesizer 负责分镜首尾帧的生成与重绘。
// cacheDir 非空时把生成结果落到本地（生成服务返回的是短期有效的 URL），
// 下载失败只记日志，不影响主流程。
type FrameSynthesizer struct {
	svc      gen.GenerationService
	ledger   gen.UsageLedger
	cacheDir string
}

func NewFrameSynthesizer(svc gen.GenerationService, ledger gen.UsageLedger, cacheDir string) *FrameSynthesizer {
	return &FrameSynthesizer{svc: svc, ledger: ledger, cacheDir: cacheDir}
}

// StartFramePrompt 首帧提示词，由分镜字段确定
func StartFramePrompt(scene *models.Scene) string {
	var b strings.Builder
	fmt.Fprintf(&b, "分镜首帧。画面内容：%s。", scene.Description)
	if len(scene.CharactersInScene) > 0 {
		fmt.Fprintf(&b, "出场角色：%s。", strings.Join(scene.CharactersInScene, "、"))
	}
	return b.String()
}

// SceneContext 重绘时带上的分镜上下文
func SceneContext(scene *models.Scene) string {
	return fmt.Sprintf("分镜上下文：%s。动作：%s。", scene.Description, scene.Narrative)
}

func (f *FrameSynthesizer) StartFrame(ctx context.Context, scene *models.Scene, referencePage string) (string, error) {
	url, usage, err := f.svc.SynthesizeStartFrame(ctx, StartFramePrompt(scene), referencePage)
	if err != nil {
		return "", err
	}
	f.record(usage, scene)
	f.cache(url, scene.ID, "start")
	return url, nil
}

func (f *FrameSynthesizer) EndFrame(ctx context.Context, scene *models.Scene, startFrame string) (string, error) {
	url, usage, err := f.svc.SynthesizeEndFrame(ctx, startFrame, scene.Narrative, scene.Duration)
	if err != nil {
		return "", err
	}
	f.record(usage, scene)
	f.cache(url, scene.ID, "end")
	return url, nil
}

// Regenerate 重绘一帧。失败时调用方保留原帧，不做部分覆盖。
func (f *FrameSynthesizer) Regenerate(ctx context.Context, scene *models.Scene, original, editInstruction string) (string, error) {
	url, usage, err := f.svc.RegenerateFrame(ctx, original, editInstruction, SceneContext(scene))
	if err != nil {
		return "", err
	}
	f.record(usage, scene)
	f.cache(url, scene.ID, "regen")
	return url, nil
}

func (f *FrameSynthesizer) record(usage models.UsageEvent, scene *models.Scene) {
	if f.ledger == nil {
		return
	}
	usage.SceneID = scene.ID
	usage.StoryboardID = scene.StoryboardID
	f.ledger.Record(usage)
}

func (f *FrameSynthesizer) cache(url, sceneID, kind string) {
	if f.cacheDir == "" {
		return
	}
	dest := filepath.Join(f.cacheDir, fmt.Sprintf("%s_%s.jpg", sceneID, kind))
	if err := util.DownloadAsset(url, dest); err != nil {
		log.Printf("Failed to cache frame for scene %s: %v", sceneID, err)
	}
}
