package models

// VideoJobMessage 视频任务队列消息体
type VideoJobMessage struct {
	StoryboardID string `json:"storyboard_id"`
	SceneID      string `json:"scene_id"`
}
