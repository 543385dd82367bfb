package models

// 视频生成状态机：idle -> pending -> {done, error}
// error 不是粘性状态，重新提交任务会从 error 回到 pending
const (
	VideoStatusIdle    = "idle"
	VideoStatusPending = "pending"
	VideoStatusDone    = "done"
	VideoStatusError   = "error"
)

// 分镜补丁事件类型
const (
	EventSceneCreated = "scene_created" // 占位分镜刚建好，isLoading=true
	EventSceneUpdated = "scene_updated" // 首尾帧/提示词/推荐模型等字段更新
	EventVideoStatus  = "video_status"  // 视频任务状态或进度变化
)

// PageImage 输入的单页图像
type PageImage struct {
	URL  string `json:"url" binding:"required,url"`
	MIME string `json:"mime,omitempty"` // 默认 image/png
}

// Character 角色表条目，用于分镜拆解与提示词里的角色一致性锚点
type Character struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// InitialScene 拆解服务返回并经过钳制/校验后的分镜描述
type InitialScene struct {
	Description       string   `json:"description"`
	Narrative         string   `json:"narrative"`
	Duration          int      `json:"duration"`          // 秒，1~10
	SourcePageIndex   int      `json:"source_page_index"` // 0 <= idx < len(pages)
	CharactersInScene []string `json:"characters_in_scene,omitempty"`
}

// Scene 分镜，是生成与前端状态的最小单元
// description/narrative/duration/source_page_index 创建后不再变化，
// 其余字段由各异步阶段按 ID 原地补齐
type Scene struct {
	ID                string   `json:"id"` // snowflake，转成字符串避免 JS 精度问题
	StoryboardID      string   `json:"storyboard_id"`
	Index             int      `json:"index"` // 在故事板中的位置，等于拆解顺序
	Description       string   `json:"description"`
	Narrative         string   `json:"narrative"`
	Duration          int      `json:"duration"`
	SourcePageIndex   int      `json:"source_page_index"`
	CharactersInScene []string `json:"characters_in_scene,omitempty"`

	RecommendedModel string            `json:"recommended_model,omitempty"`
	Reasoning        string            `json:"reasoning,omitempty"`
	StartFrame       string            `json:"start_frame,omitempty"`
	EndFrame         string            `json:"end_frame,omitempty"`
	Prompts          map[string]string `json:"prompts,omitempty"` // backend id -> 提示词

	IsLoading  bool   `json:"is_loading"`
	BuildError string `json:"build_error,omitempty"` // 分镜级构建失败信息，不影响其他分镜

	VideoGenerationStatus   string `json:"video_generation_status"`
	VideoGenerationProgress string `json:"video_generation_progress,omitempty"`
	GeneratedVideoURL       string `json:"generated_video_url,omitempty"`
}

// Clone 深拷贝，补丁事件对外只发快照
func (s *Scene) Clone() *Scene {
	c := *s
	if s.CharactersInScene != nil {
		c.CharactersInScene = append([]string(nil), s.CharactersInScene...)
	}
	if s.Prompts != nil {
		c.Prompts = make(map[string]string, len(s.Prompts))
		for k, v := range s.Prompts {
			c.Prompts[k] = v
		}
	}
	return &c
}

// SceneEvent 对外发布的不可变分镜补丁
type SceneEvent struct {
	Type         string `json:"type"`
	StoryboardID string `json:"storyboard_id"`
	Scene        *Scene `json:"scene"`
}
