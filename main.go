package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"S2V/config"
	"S2V/controller"
	"S2V/dao/mysql"
	"S2V/dao/store"
	"S2V/gen"
	"S2V/logic"
	"S2V/models"
	"S2V/pkg/queue"
	"S2V/pkg/snowflake"
	sse "S2V/pkg/sse"
	"S2V/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func init() {
	// .env 不存在时静默跳过，API Key 只从环境变量读取
	_ = godotenv.Load()
	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Println("GEMINI_API_KEY is not set, scene decomposition will fail")
	}
	if os.Getenv("ARK_API_KEY") == "" {
		log.Println("ARK_API_KEY is not set, frame/video generation will fail")
	}
}

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// 初始化参数校验错误翻译器
	if err := controller.InitTrans("zh"); err != nil {
		log.Fatalf("Failed to init validator translator: %v", err)
	}

	// 初始化雪花算法
	if err := snowflake.Init(cfg.MachineID); err != nil {
		log.Fatalf("Failed to init Snowflake: %v", err)
	}

	if err := store.Init(cfg.RedisAddr); err != nil {
		log.Fatalf("Failed to init Redis: %v", err)
	}

	if err := mysql.Init(cfg.MySQLDSN); err != nil {
		log.Fatalf("Failed to init MySQL: %v", err)
	}
	defer mysql.Close()

	// 生成服务与编排器
	ledger := mysql.NewLedger()
	gemini := gen.NewGeminiService(cfg.Gemini.Model, cfg.Video.Backends)
	ark := gen.NewArkService(os.Getenv("ARK_API_KEY"), gen.ArkConfig{
		BaseURL:    cfg.Ark.BaseURL,
		ImageModel: cfg.Ark.ImageModel,
		VideoModel: cfg.Ark.VideoModel,
		Size:       cfg.Ark.Size,
		Watermark:  cfg.Ark.Watermark,
		Seed:       cfg.Ark.Seed,
		Resolution: cfg.Ark.Resolution,
	})
	svc := gen.NewService(gemini, ark)

	orch := logic.NewOrchestrator(svc, svc, ledger, logic.Options{
		Backends:      cfg.Video.Backends,
		PollInterval:  cfg.Video.PollInterval(),
		FrameCacheDir: filepath.Join(cfg.PublicDir, "frames"),
	})
	defer orch.Close()

	// 初始化单例视频任务 RabbitMQ
	if err := queue.InitVideoRabbitMQ(cfg.AMQPDSN); err != nil {
		log.Fatalf("Failed to init video RabbitMQ: %v", err)
	}
	videoRabbitMQ, err := queue.GetVideoRabbitMQ()
	if err != nil {
		log.Fatalf("Failed to get video RabbitMQ instance: %v", err)
	}
	defer videoRabbitMQ.Close()

	processor := worker.NewVideoProcessor(videoRabbitMQ, orch)
	go processor.Start()

	// 初始化并启动 SSE hub
	sseHub := sse.NewHub()
	sse.SetDefaultHub(sseHub)
	go sseHub.Run()

	// 分镜补丁事件转发：SSE 广播 + Redis 快照
	events, cancel := orch.Subscribe()
	defer cancel()
	go forwardEvents(events, sseHub)

	h := controller.NewHandler(orch, cfg.PublicDir)

	r := gin.Default()
	r.Static("/videos", filepath.Join(cfg.PublicDir, "videos"))
	r.Static("/frames", filepath.Join(cfg.PublicDir, "frames"))

	r.GET("/events", sse.ServeSSE)

	r.POST("/storyboard", h.BuildStoryboard)
	r.GET("/storyboard/:id", h.GetStoryboard)
	r.POST("/storyboard/:id/export", h.ExportStoryboard)
	r.POST("/scene/:scene_id/frame", h.RegenerateFrame)
	r.POST("/scene/:scene_id/video", h.RunVideoJob)

	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}

// forwardEvents 把编排器的分镜补丁广播到 SSE 并落 Redis 快照。
// 落库失败只记日志，不中断推送
func forwardEvents(events <-chan models.SceneEvent, hub *sse.Hub) {
	for e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			zap.L().Error("marshal scene event failed", zap.Error(err))
			continue
		}
		hub.PublishTopic(e.StoryboardID, b)

		if err := store.SaveScene(e.Scene); err != nil {
			zap.L().Error("save scene snapshot failed",
				zap.String("scene_id", e.Scene.ID), zap.Error(err))
		}
	}
}
