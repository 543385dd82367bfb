package logic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"S2V/gen"
	"S2V/models"
	"S2V/pkg/snowflake"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 可重绘的帧类型
const (
	FrameStart = "start"
	FrameEnd   = "end"
)

// ErrJobRejected 视频任务提交被拒绝（分镜不存在/未就绪/状态冲突），
// 重试也不会成功
var ErrJobRejected = errors.New("视频任务被拒绝")

// ErrBuildReplaced 本次构建在完成前被更新的构建整体取代
var ErrBuildReplaced = errors.New("构建已被新的构建取代")

// Options 编排器的装配参数
type Options struct {
	Backends      []string      // 提示词模板的目标后端，第一个为推荐回退
	PollInterval  time.Duration // 视频任务轮询间隔
	FrameCacheDir string        // 帧图缓存目录，空表示不缓存
}

// Orchestrator 是故事板流水线的顶层协调者。
//
// 它持有分镜集合（按 ID 索引、按拆解顺序排列），把各异步阶段产出的
// 字段补丁全部送进一条更新队列，由单协程串行落到分镜上并对外广播
// 不可变快照事件。分镜之间严格串行处理（限制外部服务并发与成本），
// 单个分镜内部首帧与提示词/推荐并行。
//
// 单个分镜的构建失败只标记该分镜，不会中止兄弟分镜。
type Orchestrator struct {
	decomposer  *SceneDecomposer
	recommender *ModelRecommender
	composer    *PromptComposer
	frames      *FrameSynthesizer
	runner      *VideoJobRunner
	backends    []string

	patches chan patchMsg
	closed  chan struct{}

	// 仅由 loop 协程访问
	scenes      map[string]*models.Scene
	order       []string
	subscribers map[chan models.SceneEvent]bool

	// 构建代际：新构建会替换整个故事板并取消上一代的在途工作
	buildMu      sync.Mutex
	buildCtx     context.Context
	buildCancel  context.CancelFunc
	buildWG      sync.WaitGroup
	storyboardID string
}

type patchMsg struct {
	apply func()
	done  chan struct{}
}

func NewOrchestrator(svc gen.GenerationService, video gen.VideoService, ledger gen.UsageLedger, opts Options) *Orchestrator {
	o := &Orchestrator{
		decomposer:  NewSceneDecomposer(svc, ledger),
		recommender: NewModelRecommender(svc, ledger, opts.Backends),
		composer:    NewPromptComposer(opts.Backends),
		frames:      NewFrameSynthesizer(svc, ledger, opts.FrameCacheDir),
		runner:      NewVideoJobRunner(video, ledger, opts.PollInterval),
		backends:    append([]string(nil), opts.Backends...),
		patches:     make(chan patchMsg),
		closed:      make(chan struct{}),
		scenes:      make(map[string]*models.Scene),
		subscribers: make(map[chan models.SceneEvent]bool),
	}
	go o.loop()
	return o
}

func (o *Orchestrator) loop() {
	for {
		select {
		case m := <-o.patches:
			m.apply()
			close(m.done)
		case <-o.closed:
			return
		}
	}
}

// do 把一个操作排进更新队列并等它执行完，所有分镜修改都走这里。
// 返回 false 表示编排器已关闭，操作没有执行
func (o *Orchestrator) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case o.patches <- patchMsg{apply: fn, done: done}:
		<-done
		return true
	case <-o.closed:
		return false
	}
}

func (o *Orchestrator) emit(e models.SceneEvent) {
	for ch := range o.subscribers {
		select {
		case ch <- e:
		default:
			// 订阅方不读就丢弃，不能阻塞更新队列
		}
	}
}

// patchScene 按 ID 打补丁并广播快照。故事板已被替换时迟到的补丁直接丢弃。
func (o *Orchestrator) patchScene(eventType, id string, mutate func(*models.Scene)) {
	o.do(func() {
		s, ok := o.scenes[id]
		if !ok {
			return
		}
		mutate(s)
		o.emit(models.SceneEvent{Type: eventType, StoryboardID: s.StoryboardID, Scene: s.Clone()})
	})
}

// Subscribe 订阅分镜补丁事件流，返回的取消函数必须调用
func (o *Orchestrator) Subscribe() (<-chan models.SceneEvent, func()) {
	ch := make(chan models.SceneEvent, 64)
	o.do(func() { o.subscribers[ch] = true })
	return ch, func() {
		o.do(func() { delete(o.subscribers, ch) })
	}
}

// Scene 返回某个分镜的快照，不存在时返回 nil
func (o *Orchestrator) Scene(id string) *models.Scene {
	var s *models.Scene
	o.do(func() {
		if cur, ok := o.scenes[id]; ok {
			s = cur.Clone()
		}
	})
	return s
}

// Scenes 返回当前故事板全部分镜的快照，顺序与拆解顺序一致
func (o *Orchestrator) Scenes() []*models.Scene {
	var out []*models.Scene
	o.do(func() {
		for _, id := range o.order {
			out = append(out, o.scenes[id].Clone())
		}
	})
	return out
}

// StoryboardID 当前故事板 ID，尚未构建过时为空
func (o *Orchestrator) StoryboardID() string {
	o.buildMu.Lock()
	defer o.buildMu.Unlock()
	return o.storyboardID
}

// Build 启动一次故事板构建。
//
// 拆解失败对整个构建致命，直接返回错误，不会产生任何分镜。
// 拆解成功后立刻发布占位分镜（isLoading=true）并返回，帧与提示词
// 由后台阶段循环按顺序逐个补齐。再次调用 Build 会整体替换故事板，
// 并取消上一次构建与视频任务的所有在途工作；被取代的构建返回
// ErrBuildReplaced，它的阶段循环不会启动。
func (o *Orchestrator) Build(ctx context.Context, pages []models.PageImage, roster []models.Character) (string, []*models.Scene, error) {
	if len(pages) == 0 {
		return "", nil, fmt.Errorf("页面列表为空")
	}

	// 在拆解之前原子接管构建代际：取消上一代并登记本代的 ctx。
	// 拆解是秒级的外部调用，期间再到来的构建取消的必须是本代，
	// 否则两代的阶段循环会同时跑
	buildCtx, cancel := context.WithCancel(context.Background())
	o.buildMu.Lock()
	if o.buildCancel != nil {
		o.buildCancel()
	}
	o.buildCtx, o.buildCancel = buildCtx, cancel
	o.buildMu.Unlock()

	// 拆解同时挂在调用方 ctx 和本代 ctx 上，任一取消都中止
	decomposeCtx, cancelDecompose := context.WithCancel(ctx)
	defer cancelDecompose()
	stop := context.AfterFunc(buildCtx, cancelDecompose)
	defer stop()

	initial, err := o.decomposer.Decompose(decomposeCtx, pages, roster)
	if err != nil {
		if buildCtx.Err() != nil {
			return "", nil, ErrBuildReplaced
		}
		zap.L().Error("分镜拆解失败，本次构建中止", zap.Error(err))
		return "", nil, err
	}
	if buildCtx.Err() != nil {
		return "", nil, ErrBuildReplaced
	}

	sbID, err := newID()
	if err != nil {
		return "", nil, err
	}

	scenes := make([]*models.Scene, 0, len(initial))
	ids := make([]string, 0, len(initial))
	for i, init := range initial {
		id, err := newID()
		if err != nil {
			return "", nil, err
		}
		ids = append(ids, id)
		scenes = append(scenes, &models.Scene{
			ID:                    id,
			StoryboardID:          sbID,
			Index:                 i,
			Description:           init.Description,
			Narrative:             init.Narrative,
			Duration:              init.Duration,
			SourcePageIndex:       init.SourcePageIndex,
			CharactersInScene:     init.CharactersInScene,
			IsLoading:             true,
			VideoGenerationStatus: models.VideoStatusIdle,
		})
	}

	// 仍是当前代才允许整体替换故事板并发布占位分镜，
	// 代际判定和替换在更新队列内一次完成
	replaced := false
	snapshots := make([]*models.Scene, 0, len(scenes))
	o.do(func() {
		o.buildMu.Lock()
		current := o.buildCtx == buildCtx
		if current {
			o.storyboardID = sbID
		}
		o.buildMu.Unlock()
		if !current {
			return
		}
		replaced = true
		o.scenes = make(map[string]*models.Scene, len(scenes))
		o.order = ids
		for _, s := range scenes {
			o.scenes[s.ID] = s
			snap := s.Clone()
			snapshots = append(snapshots, snap)
			o.emit(models.SceneEvent{Type: models.EventSceneCreated, StoryboardID: sbID, Scene: snap})
		}
	})
	if !replaced {
		cancel()
		return "", nil, ErrBuildReplaced
	}

	o.buildWG.Add(1)
	go func() {
		defer o.buildWG.Done()
		o.stageLoop(buildCtx, pages, roster, ids)
	}()

	return sbID, snapshots, nil
}

// stageLoop 按拆解顺序逐个补齐分镜，分镜之间不并行
func (o *Orchestrator) stageLoop(ctx context.Context, pages []models.PageImage, roster []models.Character, ids []string) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := o.buildScene(ctx, pages, roster, id); err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("分镜构建失败，继续处理后续分镜",
				zap.String("scene_id", id), zap.Error(err))
			o.patchScene(models.EventSceneUpdated, id, func(s *models.Scene) {
				s.BuildError = err.Error()
			})
		}
	}
}

func (o *Orchestrator) buildScene(ctx context.Context, pages []models.PageImage, roster []models.Character, id string) error {
	s := o.Scene(id)
	if s == nil {
		return fmt.Errorf("分镜 %s 不存在", id)
	}

	var (
		startFrame string
		recModel   string
		reasoning  string
		prompts    map[string]string
	)

	// 首帧生成与 推荐+提示词 互不依赖，并行执行；尾帧依赖首帧，必须串行在后
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := o.frames.StartFrame(gctx, s, pages[s.SourcePageIndex].URL)
		if err != nil {
			return err
		}
		startFrame = url
		return nil
	})
	g.Go(func() error {
		recModel, reasoning = o.recommender.Recommend(gctx, s.Description, s.Narrative)
		prompts = o.composer.Compose(s, roster)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	endFrame, err := o.frames.EndFrame(ctx, s, startFrame)
	if err != nil {
		// 尾帧失败：保留已经拿到的部分，分镜停留在 isLoading，由上层标记错误
		o.patchScene(models.EventSceneUpdated, id, func(sc *models.Scene) {
			sc.StartFrame = startFrame
			sc.RecommendedModel = recModel
			sc.Reasoning = reasoning
			sc.Prompts = prompts
		})
		return err
	}

	o.patchScene(models.EventSceneUpdated, id, func(sc *models.Scene) {
		sc.StartFrame = startFrame
		sc.EndFrame = endFrame
		sc.RecommendedModel = recModel
		sc.Reasoning = reasoning
		sc.Prompts = prompts
		sc.IsLoading = false
	})
	return nil
}

// RunVideoJob 为一个分镜生成视频，阻塞到任务终态（done 或 error）才返回。
// 返回 error 只表示任务被拒绝（分镜不存在/未就绪/已有进行中任务/已有成品），
// 任务本身的失败会落在分镜的 videoGenerationStatus=error 上。
// 状态机：idle 和 error 可以提交，pending 与 done 拒绝。
func (o *Orchestrator) RunVideoJob(sceneID string) error {
	var (
		req      JobRequest
		claimErr error
	)
	// 状态检查与置 pending 在更新队列内一次完成，并发提交只会有一个成功
	claimed := o.do(func() {
		s, ok := o.scenes[sceneID]
		if !ok {
			claimErr = fmt.Errorf("%w: 分镜 %s 不存在", ErrJobRejected, sceneID)
			return
		}
		switch s.VideoGenerationStatus {
		case models.VideoStatusPending:
			claimErr = fmt.Errorf("%w: 分镜 %s 已有进行中的视频任务", ErrJobRejected, sceneID)
			return
		case models.VideoStatusDone:
			claimErr = fmt.Errorf("%w: 分镜 %s 已生成过视频", ErrJobRejected, sceneID)
			return
		}
		if s.IsLoading || s.StartFrame == "" {
			claimErr = fmt.Errorf("%w: 分镜 %s 还未就绪，无法生成视频", ErrJobRejected, sceneID)
			return
		}
		prompt := s.Prompts[s.RecommendedModel]
		if prompt == "" {
			// 推荐结果没有对应模板时，按配置顺序取第一份可用的
			for _, b := range o.backends {
				if p := s.Prompts[b]; p != "" {
					prompt = p
					break
				}
			}
		}
		s.VideoGenerationStatus = models.VideoStatusPending
		s.VideoGenerationProgress = "任务已提交，正在排队…"
		s.GeneratedVideoURL = ""
		o.emit(models.SceneEvent{Type: models.EventVideoStatus, StoryboardID: s.StoryboardID, Scene: s.Clone()})
		req = JobRequest{
			StoryboardID: s.StoryboardID,
			SceneID:      s.ID,
			Prompt:       prompt,
			StartFrame:   s.StartFrame,
			Duration:     s.Duration,
		}
	})
	if !claimed {
		return fmt.Errorf("%w: 编排器已关闭", ErrJobRejected)
	}
	if claimErr != nil {
		return claimErr
	}

	// 轮询挂在当前构建代际上：故事板被替换时轮询随之停止
	updates := o.runner.Run(o.currentBuildCtx(), req)
	for upd := range updates {
		upd := upd
		o.patchScene(models.EventVideoStatus, sceneID, func(sc *models.Scene) {
			sc.VideoGenerationStatus = upd.Status
			sc.VideoGenerationProgress = upd.Message
			if upd.Status == models.VideoStatusDone {
				sc.GeneratedVideoURL = upd.VideoURL
			}
		})
	}
	return nil
}

// RegenerateFrame 重绘某个分镜的首帧或尾帧。
// editInstruction 为空时生成创意替代版本。失败时原帧保持不变，
// 成功时也只更新这一个帧字段，不碰其他任何字段。
func (o *Orchestrator) RegenerateFrame(ctx context.Context, sceneID, frameType, editInstruction string) (string, error) {
	s := o.Scene(sceneID)
	if s == nil {
		return "", fmt.Errorf("分镜 %s 不存在", sceneID)
	}

	var original string
	switch frameType {
	case FrameStart:
		original = s.StartFrame
	case FrameEnd:
		original = s.EndFrame
	default:
		return "", fmt.Errorf("未知的帧类型 %q", frameType)
	}
	if original == "" {
		return "", fmt.Errorf("分镜 %s 还没有可重绘的帧", sceneID)
	}

	url, err := o.frames.Regenerate(ctx, s, original, editInstruction)
	if err != nil {
		return "", err
	}

	o.patchScene(models.EventSceneUpdated, sceneID, func(sc *models.Scene) {
		if frameType == FrameStart {
			sc.StartFrame = url
		} else {
			sc.EndFrame = url
		}
	})
	return url, nil
}

func (o *Orchestrator) currentBuildCtx() context.Context {
	o.buildMu.Lock()
	defer o.buildMu.Unlock()
	if o.buildCtx != nil {
		return o.buildCtx
	}
	return context.Background()
}

// Wait 阻塞到当前构建的阶段循环结束（优雅关停与测试用）
func (o *Orchestrator) Wait() {
	o.buildWG.Wait()
}

// Close 取消在途工作并停止更新循环
func (o *Orchestrator) Close() {
	o.buildMu.Lock()
	if o.buildCancel != nil {
		o.buildCancel()
	}
	o.buildMu.Unlock()
	o.buildWG.Wait()
	close(o.closed)
}

func newID() (string, error) {
	id, err := snowflake.GetID()
	if err != nil {
		return "", fmt.Errorf("生成 ID 失败: %v", err)
	}
	return strconv.FormatUint(id, 10), nil
}
