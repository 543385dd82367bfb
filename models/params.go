package models

// BuildStoryboardForm 构建故事板请求
type BuildStoryboardForm struct {
	Pages      []PageImage `json:"pages" binding:"required,min=1,dive"`
	Characters []Character `json:"characters" binding:"omitempty,dive"`
}

// RegenerateFrameForm 重绘帧请求，edit_instruction 为空表示生成创意替代版本
type RegenerateFrameForm struct {
	FrameType       string `json:"frame_type" binding:"required,oneof=start end"`
	EditInstruction string `json:"edit_instruction"`
}

// RunVideoForm 提交视频生成任务请求
type RunVideoForm struct {
	Priority int `json:"priority" binding:"omitempty,min=0,max=10"`
}
