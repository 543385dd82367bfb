package controller

import (
	"encoding/json"

	"S2V/models"
	"S2V/pkg/queue"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunVideoJob 为分镜提交视频生成任务
// @Summary 提交视频生成任务
// @Description 任务进入消息队列异步执行，状态与进度通过 SSE 补丁推送。
// @Description 分镜处于 pending 或 done 时提交会被拒绝，error 后可以重新提交
// @Tags Scene
// @Accept json
// @Produce json
// @Param scene_id path string true "Scene ID"
// @Param request body models.RunVideoForm false "优先级（0~10）"
// @Success 200 {object} ResponseData "submitted"
// @Router /scene/{scene_id}/video [post]
func (h *Handler) RunVideoJob(c *gin.Context) {
	sceneID := c.Param("scene_id")

	var fo models.RunVideoForm
	// 请求体可以为空，优先级缺省为 1
	_ = c.ShouldBindJSON(&fo)
	if fo.Priority == 0 {
		fo.Priority = 1
	}

	s := h.orch.Scene(sceneID)
	if s == nil {
		ResponseError(c, CodeNotFound)
		return
	}
	// 快速失败，状态的最终裁决在编排器的更新队列里
	switch s.VideoGenerationStatus {
	case models.VideoStatusPending:
		ResponseError(c, CodeSceneBusy)
		return
	case models.VideoStatusDone:
		ResponseErrorWithMsg(c, CodeSceneBusy, "分镜已生成过视频")
		return
	}
	if s.IsLoading || s.StartFrame == "" {
		ResponseError(c, CodeSceneNotReady)
		return
	}

	rabbitMQ, err := queue.GetVideoRabbitMQ()
	if err != nil {
		zap.L().Error("get video message queue failed", zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}
	msg := models.VideoJobMessage{
		StoryboardID: s.StoryboardID,
		SceneID:      sceneID,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		ResponseError(c, CodeServerBusy)
		return
	}
	if err := rabbitMQ.PublishVideoJob(b, fo.Priority); err != nil {
		zap.L().Error("publish video job failed", zap.String("scene_id", sceneID), zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}

	ResponseSuccess(c, gin.H{
		"scene_id": sceneID,
		"status":   "submitted",
	})
}
