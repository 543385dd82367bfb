package controller

import (
	"fmt"
	"path/filepath"

	"S2V/dao/store"
	"S2V/logic"
	"S2V/models"
	"S2V/util"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler 持有编排器，把 HTTP 请求翻译成编排器操作
type Handler struct {
	orch      *logic.Orchestrator
	publicDir string
}

func NewHandler(o *logic.Orchestrator, publicDir string) *Handler {
	return &Handler{orch: o, publicDir: publicDir}
}

// BuildStoryboard 构建故事板
// @Summary 构建故事板
// @Description 输入页面图像列表与角色表，拆解为分镜并立即返回占位分镜；
// @Description 首尾帧、提示词、推荐模型随后通过 SSE 补丁推送
// @Tags Storyboard
// @Accept json
// @Produce json
// @Param request body models.BuildStoryboardForm true "页面与角色表"
// @Success 200 {object} ResponseData "storyboard_id 与占位分镜列表"
// @Failure 400 {object} ResponseData "请求参数错误"
// @Router /storyboard [post]
func (h *Handler) BuildStoryboard(c *gin.Context) {
	var fo models.BuildStoryboardForm
	if err := c.ShouldBindJSON(&fo); err != nil {
		zap.L().Error("BuildStoryboard with invalid param", zap.Error(err))
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			ResponseError(c, CodeInvalidParams)
			return
		}
		ResponseErrorWithMsg(c, CodeInvalidParams, removeTopStruct(errs.Translate(trans)))
		return
	}

	storyboardID, scenes, err := h.orch.Build(c.Request.Context(), fo.Pages, fo.Characters)
	if err != nil {
		zap.L().Error("orchestrator.Build failed", zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}

	ResponseSuccess(c, gin.H{
		"storyboard_id": storyboardID,
		"scenes":        scenes,
	})
}

// GetStoryboard 获取故事板当前快照
// @Summary 获取故事板
// @Description 当前故事板直接读内存快照，历史故事板回退到 Redis
// @Tags Storyboard
// @Produce json
// @Param id path string true "Storyboard ID"
// @Success 200 {object} ResponseData "分镜列表"
// @Router /storyboard/{id} [get]
func (h *Handler) GetStoryboard(c *gin.Context) {
	id := c.Param("id")

	if id == h.orch.StoryboardID() {
		ResponseSuccess(c, gin.H{
			"storyboard_id": id,
			"scenes":        h.orch.Scenes(),
		})
		return
	}

	scenes, err := store.GetStoryboard(id)
	if err != nil {
		zap.L().Error("store.GetStoryboard failed", zap.String("storyboard_id", id), zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}
	if len(scenes) == 0 {
		ResponseError(c, CodeNotFound)
		return
	}
	ResponseSuccess(c, gin.H{
		"storyboard_id": id,
		"scenes":        scenes,
	})
}

// RegenerateFrame 重绘分镜的首帧或尾帧
// @Summary 重绘帧
// @Description 基于原帧与编辑指令生成新帧，只替换这一个帧字段；
// @Description edit_instruction 为空时生成创意替代版本
// @Tags Scene
// @Accept json
// @Produce json
// @Param scene_id path string true "Scene ID"
// @Param request body models.RegenerateFrameForm true "帧类型与编辑指令"
// @Success 200 {object} ResponseData "新帧 URL"
// @Router /scene/{scene_id}/frame [post]
func (h *Handler) RegenerateFrame(c *gin.Context) {
	sceneID := c.Param("scene_id")

	var fo models.RegenerateFrameForm
	if err := c.ShouldBindJSON(&fo); err != nil {
		zap.L().Error("RegenerateFrame with invalid param", zap.Error(err))
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			ResponseError(c, CodeInvalidParams)
			return
		}
		ResponseErrorWithMsg(c, CodeInvalidParams, removeTopStruct(errs.Translate(trans)))
		return
	}

	url, err := h.orch.RegenerateFrame(c.Request.Context(), sceneID, fo.FrameType, fo.EditInstruction)
	if err != nil {
		zap.L().Error("orchestrator.RegenerateFrame failed",
			zap.String("scene_id", sceneID), zap.Error(err))
		ResponseErrorWithMsg(c, CodeServerBusy, err.Error())
		return
	}

	ResponseSuccess(c, gin.H{
		"scene_id":   sceneID,
		"frame_type": fo.FrameType,
		"url":        url,
	})
}

// ExportStoryboard 导出故事板成片
// @Summary 导出故事板
// @Description 按分镜顺序把已生成的视频片段拼接为一个成片文件（位于 public/videos）
// @Tags Storyboard
// @Produce json
// @Param id path string true "Storyboard ID"
// @Success 200 {object} ResponseData "成片 URL"
// @Router /storyboard/{id}/export [post]
func (h *Handler) ExportStoryboard(c *gin.Context) {
	id := c.Param("id")
	if id != h.orch.StoryboardID() {
		ResponseError(c, CodeNotFound)
		return
	}

	var urls []string
	for _, s := range h.orch.Scenes() {
		if s.VideoGenerationStatus == models.VideoStatusDone && s.GeneratedVideoURL != "" {
			urls = append(urls, s.GeneratedVideoURL)
		}
	}
	if len(urls) == 0 {
		ResponseErrorWithMsg(c, CodeSceneNotReady, "没有已生成的视频片段可供拼接")
		return
	}

	name := uuid.NewString() + ".mp4"
	outPath := filepath.Join(h.publicDir, "videos", name)
	if err := util.ExportStoryboard(urls, outPath); err != nil {
		zap.L().Error("util.ExportStoryboard failed", zap.String("storyboard_id", id), zap.Error(err))
		ResponseError(c, CodeServerBusy)
		return
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	videoURL := fmt.Sprintf("%s://%s/videos/%s", scheme, c.Request.Host, name)
	ResponseSuccess(c, gin.H{
		"video_url": videoURL,
		"segments":  len(urls),
	})
}
