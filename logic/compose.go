package logic

import (
	"fmt"
	"strings"

	"S2V/models"
)

// 内置模板的目标后端。配置里出现的其他 id 会落到通用模板。
const (
	BackendSeedance = "doubao-seedance-1-0-pro"
	BackendVeo      = "veo-3"
	BackendKling    = "kling-v2"
)

// PromptComposer 把分镜字段渲染成各目标后端的视频生成提示词。
// 纯函数：相同的 (scene, roster) 输入，每个后端的输出逐字节一致。
type PromptComposer struct {
	backends []string
}

func NewPromptComposer(backends []string) *PromptComposer {
	return &PromptComposer{backends: append([]string(nil), backends...)}
}

// Compose 为每个配置的后端渲染一份提示词
func (p *PromptComposer) Compose(scene *models.Scene, roster []models.Character) map[string]string {
	prompts := make(map[string]string, len(p.backends))
	for _, backend := range p.backends {
		switch backend {
		case BackendSeedance:
			prompts[backend] = composeSeedance(scene, roster)
		case BackendVeo:
			prompts[backend] = composeVeo(scene, roster)
		case BackendKling:
			prompts[backend] = composeKling(scene, roster)
		default:
			prompts[backend] = composeGeneric(backend, scene, roster)
		}
	}
	return prompts
}

// anchors 按 charactersInScene 的顺序取角色表里的描述，保证输出顺序稳定。
// 不在角色表里的名字在入库时已被丢弃，这里兜底跳过。
func anchors(scene *models.Scene, roster []models.Character) []models.Character {
	byName := make(map[string]string, len(roster))
	for _, c := range roster {
		byName[c.Name] = c.Description
	}
	out := make([]models.Character, 0, len(scene.CharactersInScene))
	for _, name := range scene.CharactersInScene {
		desc, ok := byName[name]
		if !ok {
			continue
		}
		out = append(out, models.Character{Name: name, Description: desc})
	}
	return out
}

func composeSeedance(scene *models.Scene, roster []models.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "标题: 分镜 %d（第 %d 页）\n", scene.Index+1, scene.SourcePageIndex+1)
	fmt.Fprintf(&b, "时长: %d秒 | 画幅: 16:9\n", scene.Duration)
	if cs := anchors(scene, roster); len(cs) > 0 {
		b.WriteString("角色一致性:\n")
		for _, c := range cs {
			fmt.Fprintf(&b, "- %s：%s\n", c.Name, c.Description)
		}
	}
	fmt.Fprintf(&b, "画面内容: %s\n", scene.Description)
	fmt.Fprintf(&b, "动作: %s\n", scene.Narrative)
	b.WriteString("运镜: 缓慢推近，保持主体居中\n")
	b.WriteString("负面约束: 不要出现文字、水印、画面抖动、肢体变形\n")
	return b.String()
}

func composeVeo(scene *models.Scene, roster []models.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A %d-second animated shot, 16:9.\n", scene.Duration)
	fmt.Fprintf(&b, "Scene: %s\n", scene.Description)
	fmt.Fprintf(&b, "Action: %s\n", scene.Narrative)
	if cs := anchors(scene, roster); len(cs) > 0 {
		b.WriteString("Characters (keep appearance consistent):\n")
		for _, c := range cs {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
		}
	}
	b.WriteString("Camera: slow push-in, subject centered.\n")
	b.WriteString("Avoid: on-screen text, watermarks, warped anatomy, jitter.\n")
	return b.String()
}

func composeKling(scene *models.Scene, roster []models.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s。%s。", scene.Description, scene.Narrative)
	if cs := anchors(scene, roster); len(cs) > 0 {
		b.WriteString("角色外观保持一致：")
		parts := make([]string, 0, len(cs))
		for _, c := range cs {
			parts = append(parts, c.Name+"（"+c.Description+"）")
		}
		b.WriteString(strings.Join(parts, "，"))
		b.WriteString("。")
	}
	fmt.Fprintf(&b, "时长%d秒，镜头缓慢推近。", scene.Duration)
	b.WriteString("画面中不要出现文字或水印。")
	return b.String()
}

func composeGeneric(backend string, scene *models.Scene, roster []models.Character) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[target: %s]\n", backend)
	fmt.Fprintf(&b, "duration: %ds, aspect: 16:9\n", scene.Duration)
	fmt.Fprintf(&b, "scene: %s\n", scene.Description)
	fmt.Fprintf(&b, "action: %s\n", scene.Narrative)
	for _, c := range anchors(scene, roster) {
		fmt.Fprintf(&b, "character %s: %s\n", c.Name, c.Description)
	}
	b.WriteString("negative: text, watermark, deformed hands\n")
	return b.String()
}
