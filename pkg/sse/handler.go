package sse

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeSSE 处理 SSE（Server-Sent Events）连接
// @Summary 订阅故事板分镜事件流（SSE）
// @Description 建立 SSE 长连接以接收分镜补丁事件。通过查询参数 `storyboard_id` 指定订阅的故事板，例如 `/events?storyboard_id=12345`。分镜创建、帧/提示词补齐、视频任务进度都会推送。
// @Tags SSE
// @Accept  json
// @Produce text/event-stream
// @Param storyboard_id query string true "Storyboard ID to subscribe"
// @Success 200 {string} string "event stream"
// @Failure 400 {string} string "missing topic"
// @Failure 500 {string} string "server error"
// @Router /events [get]
func ServeSSE(c *gin.Context) {
	topic := c.Query("storyboard_id")
	if topic == "" {
		c.String(http.StatusBadRequest, "missing storyboard_id")
		return
	}

	h := GetHub()
	if h == nil {
		c.String(http.StatusInternalServerError, "sse hub not initialized")
		return
	}

	// SSE 必要的响应头，保证浏览器/代理按流式处理
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// 每个连接专用的消息通道（缓冲 16），断开时由本 handler 取消订阅
	msgCh := make(chan []byte, 16)
	h.Subscribe(msgCh, topic)
	defer h.Unsubscribe(msgCh, topic)

	notify := c.Request.Context().Done()
	// 发送一条注释作为初次握手 / 保活 ping
	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-notify:
			return
		case msg := <-msgCh:
			fmt.Fprintf(c.Writer, "event: scene\ndata: %s\n\n", string(msg))
			flusher.Flush()
		}
	}
}
