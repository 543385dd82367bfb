package store

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"S2V/models"

	"github.com/go-redis/redis"
)

var Client *redis.Client

func Init(cfg string) (err error) {
	Client = redis.NewClient(&redis.Options{
		Addr: cfg,
	})

	_, err = Client.Ping().Result()
	if err != nil {
		return err
	}
	return nil
}

func GetRedis() *redis.Client {
	return Client
}

func sceneKey(storyboardID, sceneID string) string {
	return "storyboard:" + storyboardID + ":scene:" + sceneID
}

func orderKey(storyboardID string) string {
	return "storyboard:" + storyboardID + ":scenes"
}

// SaveScene 把分镜快照写进 redis，供前端重连后拉取当前状态。
// ZSet 按 Index 维护分镜顺序，快照与索引都带 24h 过期。
func SaveScene(s *models.Scene) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pipe := Client.Pipeline()
	pipe.Set(sceneKey(s.StoryboardID, s.ID), b, 24*time.Hour)
	pipe.ZAdd(orderKey(s.StoryboardID), redis.Z{
		Score:  float64(s.Index),
		Member: s.ID,
	})
	pipe.Expire(orderKey(s.StoryboardID), 24*time.Hour)
	_, err = pipe.Exec()
	if err != nil {
		log.Printf("Failed to store scene %s: %v", s.ID, err)
		return err
	}
	return nil
}

// GetStoryboard 按拆解顺序取回一个故事板的全部分镜快照
func GetStoryboard(storyboardID string) ([]*models.Scene, error) {
	ids, err := Client.ZRange(orderKey(storyboardID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read storyboard index: %v", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	scenes := make([]*models.Scene, 0, len(ids))
	for _, id := range ids {
		b, err := Client.Get(sceneKey(storyboardID, id)).Bytes()
		if err != nil {
			// 单个快照过期或丢失时跳过，不让整个查询失败
			log.Printf("Failed to read scene %s: %v", id, err)
			continue
		}
		var s models.Scene
		if err := json.Unmarshal(b, &s); err != nil {
			log.Printf("Invalid scene snapshot %s: %v", id, err)
			continue
		}
		scenes = append(scenes, &s)
	}
	return scenes, nil
}
