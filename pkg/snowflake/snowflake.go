package snowflake

import (
	"errors"
	"time"

	sf "github.com/bwmarrin/snowflake"
)

var node *sf.Node

// Init 初始化雪花算法节点，machineID 区分不同实例
func Init(machineID int64) (err error) {
	var st time.Time
	st, err = time.Parse("2006-01-02", "2025-01-01")
	if err != nil {
		return
	}
	sf.Epoch = st.UnixNano() / 1000000
	node, err = sf.NewNode(machineID)
	return
}

// GetID 生成一个全局唯一 ID
func GetID() (uint64, error) {
	if node == nil {
		return 0, errors.New("snowflake not initialized; call Init")
	}
	return uint64(node.Generate().Int64()), nil
}
