package logic

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"S2V/gen"
	"S2V/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveScenes() []gen.RawScene {
	out := make([]gen.RawScene, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, gen.RawScene{
			Description:       fmt.Sprintf("第 %d 镜", i+1),
			Narrative:         fmt.Sprintf("动作 %d", i+1),
			DurationSeconds:   5,
			SourcePageIndex:   i % 3,
			CharactersInScene: []string{"小野"},
		})
	}
	return out
}

func decomposeFive(svc *mockGenService) {
	svc.DecomposeFunc = func(ctx context.Context, pages []models.PageImage, characters []models.Character) ([]gen.RawScene, models.UsageEvent, error) {
		return fiveScenes(), models.UsageEvent{Service: "llm", Unit: "tokens", Amount: 100}, nil
	}
}

func threePages() []models.PageImage {
	return []models.PageImage{{URL: "page0"}, {URL: "page1"}, {URL: "page2"}}
}

func newTestOrchestrator(svc *mockGenService, video *mockVideoService, ledger gen.UsageLedger) *Orchestrator {
	if video == nil {
		video = &mockVideoService{}
	}
	return NewOrchestrator(svc, video, ledger, Options{
		Backends:     testBackends,
		PollInterval: time.Millisecond,
	})
}

func TestBuildPublishesPlaceholdersImmediately(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	o := newTestOrchestrator(svc, nil, &mockLedger{})
	defer o.Close()

	sbID, scenes, err := o.Build(context.Background(), threePages(), testRoster())
	require.NoError(t, err)
	require.NotEmpty(t, sbID)
	require.Len(t, scenes, 5)

	for i, s := range scenes {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, sbID, s.StoryboardID)
		assert.True(t, s.IsLoading)
		assert.Equal(t, models.VideoStatusIdle, s.VideoGenerationStatus)
		assert.Empty(t, s.StartFrame)
		assert.NotEmpty(t, s.ID)
	}
	// ID 互不重复
	seen := map[string]bool{}
	for _, s := range scenes {
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
}

func TestBuildCompletesAllScenes(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	o := newTestOrchestrator(svc, nil, &mockLedger{})
	defer o.Close()

	_, _, err := o.Build(context.Background(), threePages(), testRoster())
	require.NoError(t, err)
	o.Wait()

	scenes := o.Scenes()
	require.Len(t, scenes, 5)
	for _, s := range scenes {
		assert.False(t, s.IsLoading, "scene %d", s.Index)
		assert.Empty(t, s.BuildError)
		assert.NotEmpty(t, s.StartFrame)
		assert.NotEmpty(t, s.EndFrame)
		assert.NotEmpty(t, s.RecommendedModel)
		assert.Len(t, s.Prompts, len(testBackends))
	}
}

func TestBuildFailsWhenDecomposeFails(t *testing.T) {
	svc := &mockGenService{
		DecomposeFunc: func(ctx context.Context, pages []models.PageImage, characters []models.Character) ([]gen.RawScene, models.UsageEvent, error) {
			return nil, models.UsageEvent{}, gen.Unavailable("decompose", errors.New("超时"))
		},
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	_, _, err := o.Build(context.Background(), threePages(), nil)
	require.Error(t, err)
	assert.Empty(t, o.Scenes())
	assert.Empty(t, o.StoryboardID())
}

func TestSceneFailureDoesNotBlockSiblings(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	// 第二个分镜的首帧永远失败
	var startCalls int
	svc.StartFrameFunc = func(ctx context.Context, prompt, referenceImage string) (string, models.UsageEvent, error) {
		startCalls++
		if startCalls == 2 {
			return "", models.UsageEvent{}, gen.Refused("start_frame", "参考图被拒绝")
		}
		return fmt.Sprintf("https://img.example/start%d.jpg", startCalls), models.UsageEvent{}, nil
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	_, _, err := o.Build(context.Background(), threePages(), testRoster())
	require.NoError(t, err)
	o.Wait()

	scenes := o.Scenes()
	require.Len(t, scenes, 5)
	var failed, completed int
	for _, s := range scenes {
		if s.BuildError != "" {
			failed++
			assert.Contains(t, s.BuildError, "参考图被拒绝")
		} else {
			completed++
			assert.False(t, s.IsLoading)
			assert.NotEmpty(t, s.EndFrame)
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 4, completed)
}

func TestEndFrameFailureKeepsPartialResults(t *testing.T) {
	svc := &mockGenService{}
	svc.DecomposeFunc = func(ctx context.Context, pages []models.PageImage, characters []models.Character) ([]gen.RawScene, models.UsageEvent, error) {
		return []gen.RawScene{{Description: "d", Narrative: "n", DurationSeconds: 5}}, models.UsageEvent{}, nil
	}
	svc.EndFrameFunc = func(ctx context.Context, startFrame, narrative string, duration int) (string, models.UsageEvent, error) {
		return "", models.UsageEvent{}, gen.Refused("end_frame", "尾帧被拒绝")
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	_, _, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()

	s := o.Scenes()[0]
	// 已经拿到的部分保留，分镜停在 isLoading 并带失败信息
	assert.NotEmpty(t, s.StartFrame)
	assert.NotEmpty(t, s.Prompts)
	assert.NotEmpty(t, s.RecommendedModel)
	assert.Empty(t, s.EndFrame)
	assert.True(t, s.IsLoading)
	assert.NotEmpty(t, s.BuildError)
}

func TestRunVideoJobHappyPath(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	video := &mockVideoService{
		PollStates: []gen.JobState{
			{Status: gen.JobPending},
			{Status: gen.JobDone, VideoURL: "https://cdn.example/done.mp4"},
		},
	}
	o := newTestOrchestrator(svc, video, &mockLedger{})
	defer o.Close()

	_, scenes, err := o.Build(context.Background(), threePages(), testRoster())
	require.NoError(t, err)
	o.Wait()

	id := scenes[0].ID
	require.NoError(t, o.RunVideoJob(id))

	s := o.Scene(id)
	require.NotNil(t, s)
	assert.Equal(t, models.VideoStatusDone, s.VideoGenerationStatus)
	assert.Equal(t, "https://cdn.example/done.mp4", s.GeneratedVideoURL)
}

func TestRunVideoJobRejectsUnreadyAndUnknown(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	// 首帧一直卡住，分镜保持 isLoading
	block := make(chan struct{})
	svc.StartFrameFunc = func(ctx context.Context, prompt, referenceImage string) (string, models.UsageEvent, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return "", models.UsageEvent{}, ctx.Err()
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()
	defer close(block)

	_, scenes, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)

	err = o.RunVideoJob(scenes[0].ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobRejected)

	err = o.RunVideoJob("no-such-scene")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobRejected)
}

func TestRunVideoJobRejectsConcurrentSubmit(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	release := make(chan struct{})
	video := &mockVideoService{
		PollFunc: func(ctx context.Context, handle string) (gen.JobState, error) {
			select {
			case <-release:
				return gen.JobState{Status: gen.JobDone, VideoURL: "https://cdn.example/v.mp4"}, nil
			default:
				return gen.JobState{Status: gen.JobPending}, nil
			}
		},
	}
	o := newTestOrchestrator(svc, video, nil)
	defer o.Close()

	_, scenes, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()
	id := scenes[0].ID

	done := make(chan error, 1)
	go func() { done <- o.RunVideoJob(id) }()

	// 等任务进入 pending
	require.Eventually(t, func() bool {
		s := o.Scene(id)
		return s != nil && s.VideoGenerationStatus == models.VideoStatusPending
	}, 5*time.Second, time.Millisecond)

	// pending 期间的并发提交被拒绝
	err = o.RunVideoJob(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobRejected)

	close(release)
	require.NoError(t, <-done)

	// done 之后再次提交同样被拒绝
	err = o.RunVideoJob(id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobRejected)
}

func TestRunVideoJobAllowsRetryAfterError(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	video := &mockVideoService{
		PollStates: []gen.JobState{
			{Status: gen.JobError, Message: "第一次失败"},
			{Status: gen.JobDone, VideoURL: "https://cdn.example/retry.mp4"},
		},
	}
	o := newTestOrchestrator(svc, video, nil)
	defer o.Close()

	_, scenes, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()
	id := scenes[0].ID

	require.NoError(t, o.RunVideoJob(id))
	s := o.Scene(id)
	require.Equal(t, models.VideoStatusError, s.VideoGenerationStatus)
	assert.Equal(t, "第一次失败", s.VideoGenerationProgress)

	// error 不是粘性状态，可以重新提交
	require.NoError(t, o.RunVideoJob(id))
	s = o.Scene(id)
	assert.Equal(t, models.VideoStatusDone, s.VideoGenerationStatus)
	assert.Equal(t, "https://cdn.example/retry.mp4", s.GeneratedVideoURL)
}

func TestRegenerateFrameOnlyTouchesOneFrame(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	svc.RegenFunc = func(ctx context.Context, original, editInstruction, sceneContext string) (string, models.UsageEvent, error) {
		assert.Equal(t, "把天空改成黄昏", editInstruction)
		return "https://img.example/new-start.jpg", models.UsageEvent{}, nil
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	_, scenes, err := o.Build(context.Background(), threePages(), testRoster())
	require.NoError(t, err)
	o.Wait()
	id := scenes[0].ID
	before := o.Scene(id)

	url, err := o.RegenerateFrame(context.Background(), id, FrameStart, "把天空改成黄昏")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/new-start.jpg", url)

	after := o.Scene(id)
	assert.Equal(t, "https://img.example/new-start.jpg", after.StartFrame)
	// 其余字段不受影响
	assert.Equal(t, before.EndFrame, after.EndFrame)
	assert.Equal(t, before.Prompts, after.Prompts)
	assert.Equal(t, before.RecommendedModel, after.RecommendedModel)
}

func TestRegenerateFrameFailureKeepsOriginal(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	svc.RegenFunc = func(ctx context.Context, original, editInstruction, sceneContext string) (string, models.UsageEvent, error) {
		return "", models.UsageEvent{}, gen.Refused("regenerate", "编辑指令被拒绝")
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	_, scenes, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()
	id := scenes[0].ID
	before := o.Scene(id)

	_, err = o.RegenerateFrame(context.Background(), id, FrameEnd, "指令")
	require.Error(t, err)

	after := o.Scene(id)
	assert.Equal(t, before.EndFrame, after.EndFrame)
	assert.Equal(t, before.StartFrame, after.StartFrame)
}

func TestRebuildReplacesStoryboard(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	first, firstScenes, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()

	second, _, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()

	assert.NotEqual(t, first, second)
	assert.Equal(t, second, o.StoryboardID())
	// 旧分镜全部被替换
	assert.Nil(t, o.Scene(firstScenes[0].ID))
	for _, s := range o.Scenes() {
		assert.Equal(t, second, s.StoryboardID)
	}
}

func TestRebuildDuringDecomposeCancelsOlderBuild(t *testing.T) {
	svc := &mockGenService{}
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var call int32
	svc.DecomposeFunc = func(ctx context.Context, pages []models.PageImage, characters []models.Character) ([]gen.RawScene, models.UsageEvent, error) {
		if atomic.AddInt32(&call, 1) == 1 {
			close(firstStarted)
			select {
			case <-releaseFirst:
			case <-ctx.Done():
				return nil, models.UsageEvent{}, ctx.Err()
			}
		}
		return fiveScenes(), models.UsageEvent{Service: "llm", Unit: "tokens", Amount: 100}, nil
	}
	// 统计同一时刻有多少个首帧调用在途，两代阶段循环同时跑时会超过 1
	var active, maxActive int32
	svc.StartFrameFunc = func(ctx context.Context, prompt, referenceImage string) (string, models.UsageEvent, error) {
		cur := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			old := atomic.LoadInt32(&maxActive)
			if cur <= old || atomic.CompareAndSwapInt32(&maxActive, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return "https://img.example/start.jpg", models.UsageEvent{}, nil
	}
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	firstDone := make(chan error, 1)
	go func() {
		_, _, err := o.Build(context.Background(), threePages(), nil)
		firstDone <- err
	}()
	<-firstStarted

	// 第一次构建还卡在拆解时发起第二次构建
	second, _, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	close(releaseFirst)

	err = <-firstDone
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBuildReplaced)

	o.Wait()
	assert.Equal(t, second, o.StoryboardID())
	for _, s := range o.Scenes() {
		assert.Equal(t, second, s.StoryboardID)
	}
	// 被取代的构建不会启动自己的阶段循环
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(1))
}

func TestRunVideoJobAfterCloseIsRejected(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	video := &mockVideoService{}
	o := newTestOrchestrator(svc, video, nil)

	_, scenes, err := o.Build(context.Background(), threePages(), nil)
	require.NoError(t, err)
	o.Wait()
	o.Close()

	err = o.RunVideoJob(scenes[0].ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobRejected)
	assert.Zero(t, video.SubmitCalled)
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	svc := &mockGenService{}
	decomposeFive(svc)
	o := newTestOrchestrator(svc, nil, nil)
	defer o.Close()

	events, cancel := o.Subscribe()
	defer cancel()

	sbID, _, err := o.Build(context.Background(), threePages(), testRoster())
	require.NoError(t, err)
	o.Wait()

	var created, updated int
	timeout := time.After(5 * time.Second)
	for created < 5 || updated < 5 {
		select {
		case e := <-events:
			assert.Equal(t, sbID, e.StoryboardID)
			switch e.Type {
			case models.EventSceneCreated:
				created++
				assert.True(t, e.Scene.IsLoading)
			case models.EventSceneUpdated:
				updated++
			}
		case <-timeout:
			t.Fatalf("timed out, created=%d updated=%d", created, updated)
		}
	}
}
