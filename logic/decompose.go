package logic

import (
	"context"
	"math"

	"S2V/gen"
	"S2V/models"
)

// SceneDecomposer 把整批页面拆成有序分镜描述。
// 拆解失败对整个构建是致命的，由调用方（Orchestrator）中止本次构建。
type SceneDecomposer struct {
	svc    gen.GenerationService
	ledger gen.UsageLedger
}

func NewSceneDecomposer(svc gen.GenerationService, ledger gen.UsageLedger) *SceneDecomposer {
	return &SceneDecomposer{svc: svc, ledger: ledger}
}

// Decompose 调用拆解服务并对结果做钳制与校验：
//   - duration 四舍五入取整后钳到 [1,10]
//   - source_page_index 钳到 [0, len(pages))
//   - characters_in_scene 丢弃角色表之外的名字（外部服务并不保证只输出已知角色）
func (d *SceneDecomposer) Decompose(ctx context.Context, pages []models.PageImage, roster []models.Character) ([]models.InitialScene, error) {
	raw, usage, err := d.svc.DecomposeScenes(ctx, pages, roster)
	if err != nil {
		return nil, err
	}
	if d.ledger != nil {
		d.ledger.Record(usage)
	}

	known := make(map[string]bool, len(roster))
	for _, c := range roster {
		known[c.Name] = true
	}

	scenes := make([]models.InitialScene, 0, len(raw))
	for _, r := range raw {
		var names []string
		for _, n := range r.CharactersInScene {
			if known[n] {
				names = append(names, n)
			}
		}
		scenes = append(scenes, models.InitialScene{
			Description:       r.Description,
			Narrative:         r.Narrative,
			Duration:          clampDuration(r.DurationSeconds),
			SourcePageIndex:   clampPageIndex(r.SourcePageIndex, len(pages)),
			CharactersInScene: names,
		})
	}
	return scenes, nil
}

func clampDuration(seconds float64) int {
	d := int(math.Round(seconds))
	if d < 1 {
		return 1
	}
	if d > 10 {
		return 10
	}
	return d
}

func clampPageIndex(idx, numPages int) int {
	if idx < 0 {
		return 0
	}
	if idx >= numPages {
		return numPages - 1
	}
	return idx
}
