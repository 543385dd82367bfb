package worker

import (
	"errors"
	"log"

	"S2V/logic"
	"S2V/models"
	"S2V/pkg/queue"
)

// VideoProcessor 把队列里的视频任务交给编排器执行。
// 编排器内部保证同一分镜只有一个进行中任务，这里只做错误分类
type VideoProcessor struct {
	queue queue.VideoMessageQueue
	orch  *logic.Orchestrator
}

func NewVideoProcessor(q queue.VideoMessageQueue, o *logic.Orchestrator) *VideoProcessor {
	return &VideoProcessor{queue: q, orch: o}
}

// Start 启动消费循环，阻塞到队列通道关闭
func (p *VideoProcessor) Start() {
	if err := p.queue.ConsumeVideo(p.process); err != nil {
		log.Fatalf("Failed to consume video jobs: %v", err)
	}
}

func (p *VideoProcessor) process(msg models.VideoJobMessage) error {
	if msg.StoryboardID != "" && msg.StoryboardID != p.orch.StoryboardID() {
		// 故事板已被重建，旧任务没有重试价值
		return queue.Permanent(errors.New("故事板 " + msg.StoryboardID + " 已不存在"))
	}

	err := p.orch.RunVideoJob(msg.SceneID)
	if err == nil {
		return nil
	}
	if errors.Is(err, logic.ErrJobRejected) {
		return queue.Permanent(err)
	}
	return err
}
