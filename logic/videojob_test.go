package logic

import (
	"context"
	"errors"
	"testing"
	"time"

	"S2V/gen"
	"S2V/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectUpdates(t *testing.T, ch <-chan JobUpdate) []JobUpdate {
	t.Helper()
	var out []JobUpdate
	timeout := time.After(5 * time.Second)
	for {
		select {
		case upd, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, upd)
		case <-timeout:
			t.Fatal("timed out waiting for job updates")
		}
	}
}

func TestVideoJobHappyPathWithProgress(t *testing.T) {
	video := &mockVideoService{
		PollStates: []gen.JobState{
			{Status: gen.JobPending},
			{Status: gen.JobPending},
			{Status: gen.JobDone, VideoURL: "https://cdn.example/v.mp4"},
		},
	}
	ledger := &mockLedger{}
	runner := NewVideoJobRunner(video, ledger, time.Millisecond)

	updates := collectUpdates(t, runner.Run(context.Background(), JobRequest{
		StoryboardID: "sb1", SceneID: "s1", Prompt: "p", StartFrame: "f", Duration: 6,
	}))

	require.NotEmpty(t, updates)
	// 第一条一定是 pending，最后一条是终态 done 并带视频地址
	assert.Equal(t, models.VideoStatusPending, updates[0].Status)
	last := updates[len(updates)-1]
	assert.Equal(t, models.VideoStatusDone, last.Status)
	assert.Equal(t, "https://cdn.example/v.mp4", last.VideoURL)

	// 两次 pending 轮询各产生一条进度更新
	var progress int
	for _, u := range updates {
		if u.Progress {
			progress++
			assert.Equal(t, models.VideoStatusPending, u.Status)
			assert.NotEmpty(t, u.Message)
		}
	}
	assert.Equal(t, 2, progress)

	// 成功后按时长记账
	events := ledger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "video", events[0].Service)
	assert.Equal(t, "seconds", events[0].Unit)
	assert.Equal(t, int64(6), events[0].Amount)
	assert.Equal(t, "s1", events[0].SceneID)
}

func TestVideoJobSubmitFailure(t *testing.T) {
	video := &mockVideoService{
		SubmitFunc: func(ctx context.Context, prompt, startFrame string, duration int) (string, error) {
			return "", gen.Unavailable("submit", errors.New("网络不可达"))
		},
	}
	runner := NewVideoJobRunner(video, &mockLedger{}, time.Millisecond)

	updates := collectUpdates(t, runner.Run(context.Background(), JobRequest{SceneID: "s1", Duration: 5}))

	last := updates[len(updates)-1]
	assert.Equal(t, models.VideoStatusError, last.Status)
	assert.NotEmpty(t, last.Message)
	assert.Zero(t, video.PollCalled)
}

func TestVideoJobReportsUpstreamFailure(t *testing.T) {
	video := &mockVideoService{
		PollStates: []gen.JobState{
			{Status: gen.JobPending},
			{Status: gen.JobError, Message: "内容审核未通过"},
		},
	}
	ledger := &mockLedger{}
	runner := NewVideoJobRunner(video, ledger, time.Millisecond)

	updates := collectUpdates(t, runner.Run(context.Background(), JobRequest{SceneID: "s1", Duration: 5}))

	last := updates[len(updates)-1]
	assert.Equal(t, models.VideoStatusError, last.Status)
	assert.Equal(t, "内容审核未通过", last.Message)
	// 失败任务不记账
	assert.Empty(t, ledger.Events())
}

func TestVideoJobPollErrorIsTerminal(t *testing.T) {
	video := &mockVideoService{
		PollFunc: func(ctx context.Context, handle string) (gen.JobState, error) {
			return gen.JobState{}, gen.FailedJob("video_poll", "视频合成任务 cgt-9 执行失败")
		},
	}
	runner := NewVideoJobRunner(video, nil, time.Millisecond)

	updates := collectUpdates(t, runner.Run(context.Background(), JobRequest{SceneID: "s1", Duration: 5}))

	last := updates[len(updates)-1]
	assert.Equal(t, models.VideoStatusError, last.Status)
	assert.Contains(t, last.Message, "执行失败")
}

func TestVideoJobCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	video := &mockVideoService{
		PollFunc: func(ctx context.Context, handle string) (gen.JobState, error) {
			return gen.JobState{Status: gen.JobPending}, nil
		},
	}
	runner := NewVideoJobRunner(video, nil, time.Millisecond)

	ch := runner.Run(ctx, JobRequest{SceneID: "s1", Duration: 5})
	// 等第一条 pending 出来再取消
	first := <-ch
	require.Equal(t, models.VideoStatusPending, first.Status)
	cancel()

	updates := collectUpdates(t, ch)
	require.NotEmpty(t, updates)
	// 取消后保证有终态，分镜不会停在 pending
	last := updates[len(updates)-1]
	assert.Equal(t, models.VideoStatusError, last.Status)
	assert.Equal(t, "任务已取消", last.Message)
}
