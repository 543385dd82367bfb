package mysql

import (
	"log"
	"time"

	"S2V/models"
)

// 用量账本，只追加。建表语句：
//
//	CREATE TABLE usage_events (
//	    id BIGINT AUTO_INCREMENT PRIMARY KEY,
//	    service VARCHAR(32) NOT NULL,
//	    model VARCHAR(64) NOT NULL DEFAULT '',
//	    unit VARCHAR(16) NOT NULL,
//	    amount BIGINT NOT NULL,
//	    scene_id VARCHAR(32) NOT NULL DEFAULT '',
//	    storyboard_id VARCHAR(32) NOT NULL DEFAULT '',
//	    created_at BIGINT NOT NULL,
//	    KEY idx_storyboard (storyboard_id)
//	);

// InsertUsageEvent 插入一条用量记录
func InsertUsageEvent(e models.UsageEvent) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	sqlStr := `INSERT INTO usage_events (service, model, unit, amount, scene_id, storyboard_id, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := Db.Exec(sqlStr, e.Service, e.Model, e.Unit, e.Amount, e.SceneID, e.StoryboardID, e.CreatedAt)
	return err
}

// Ledger 实现 gen.UsageLedger：fire-and-forget，落库失败只记日志，
// 绝不把账本错误传导进生成流水线
type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

func (l *Ledger) Record(e models.UsageEvent) {
	if err := InsertUsageEvent(e); err != nil {
		log.Printf("Failed to record usage event (service=%s scene=%s): %v", e.Service, e.SceneID, err)
	}
}
