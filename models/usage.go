package models

// UsageEvent 每次外部生成调用产生一条用量记录，只追加不修改
type UsageEvent struct {
	Service      string `json:"service" db:"service"` // decompose/recommend/start_frame/end_frame/regenerate/video
	Model        string `json:"model" db:"model"`
	Unit         string `json:"unit" db:"unit"` // tokens/images/seconds
	Amount       int64  `json:"amount" db:"amount"`
	SceneID      string `json:"scene_id,omitempty" db:"scene_id"`
	StoryboardID string `json:"storyboard_id,omitempty" db:"storyboard_id"`
	CreatedAt    int64  `json:"created_at" db:"created_at"`
}
