package logic

import (
	"context"
	"time"

	"S2V/gen"
	"S2V/models"
)

// 轮询期间循环展示的阶段性进度文案，具体措辞不承载语义，只要求非空
var progressStages = []string{
	"正在排队等待算力…",
	"正在理解首帧与提示词…",
	"正在逐帧合成画面…",
	"正在渲染与编码视频…",
}

// JobRequest 一次视频合成任务的输入
type JobRequest struct {
	StoryboardID string
	SceneID      string
	Prompt       string
	StartFrame   string
	Duration     int
}

// JobUpdate 任务状态流中的一条更新。
// Progress=true 表示轮询期间的进度消息；终态（done/error）之后通道关闭。
type JobUpdate struct {
	SceneID  string
	Status   string // models.VideoStatus*
	Message  string
	VideoURL string
	Progress bool
}

// VideoJobRunner 驱动长耗时视频任务：提交后按固定间隔轮询直到终态。
// Runner 是更新通道的唯一生产者；取消通过 ctx 表达，轮询立即停止，
// 并保证发出一条终态更新，分镜不会停在 pending。
type VideoJobRunner struct {
	video    gen.VideoService
	ledger   gen.UsageLedger
	interval time.Duration
}

func NewVideoJobRunner(video gen.VideoService, ledger gen.UsageLedger, interval time.Duration) *VideoJobRunner {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &VideoJobRunner{video: video, ledger: ledger, interval: interval}
}

// Run 提交任务并返回更新流。调用方负责在调用前校验状态机
// （同一分镜最多一个进行中的任务）。
func (r *VideoJobRunner) Run(ctx context.Context, req JobRequest) <-chan JobUpdate {
	out := make(chan JobUpdate, 16)
	go func() {
		defer close(out)
		out <- JobUpdate{SceneID: req.SceneID, Status: models.VideoStatusPending, Message: "任务已提交，正在排队…"}

		handle, err := r.video.SubmitJob(ctx, req.Prompt, req.StartFrame, req.Duration)
		if err != nil {
			out <- JobUpdate{SceneID: req.SceneID, Status: models.VideoStatusError, Message: err.Error()}
			return
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		stage := 0

		for {
			select {
			case <-ctx.Done():
				// 故事板被替换或服务关停：停止轮询并给出终态
				out <- JobUpdate{SceneID: req.SceneID, Status: models.VideoStatusError, Message: "任务已取消"}
				return
			case <-ticker.C:
				st, err := r.video.PollJob(ctx, handle)
				if err != nil {
					out <- JobUpdate{SceneID: req.SceneID, Status: models.VideoStatusError, Message: err.Error()}
					return
				}
				switch st.Status {
				case gen.JobDone:
					if r.ledger != nil {
						r.ledger.Record(models.UsageEvent{
							Service:      "video",
							Unit:         "seconds",
							Amount:       int64(req.Duration),
							SceneID:      req.SceneID,
							StoryboardID: req.StoryboardID,
							CreatedAt:    time.Now().Unix(),
						})
					}
					out <- JobUpdate{SceneID: req.SceneID, Status: models.VideoStatusDone, VideoURL: st.VideoURL, Message: "视频生成完成"}
					return
				case gen.JobError:
					msg := st.Message
					if msg == "" {
						msg = "视频合成任务执行失败"
					}
					out <- JobUpdate{SceneID: req.SceneID, Status: models.VideoStatusError, Message: msg}
					return
				default:
					out <- JobUpdate{
						SceneID:  req.SceneID,
						Status:   models.VideoStatusPending,
						Message:  progressStages[stage%len(progressStages)],
						Progress: true,
					}
					stage++
				}
			}
		}
	}()
	return out
}
