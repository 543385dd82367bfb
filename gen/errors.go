package gen

import (
	"errors"
	"fmt"
)

// 错误分类：
//   - KindUnavailable 服务不可达/未配置，当次调用失败
//   - KindRefused     内容被拒或空结果，错误信息需要透传给用户
//   - KindInvalidResult 结构化输出解析失败，按 Refused 处理
//   - KindJobFailed   视频任务上报失败，分镜级终态，可重新提交
type Kind int

const (
	KindUnavailable Kind = iota + 1
	KindRefused
	KindInvalidResult
	KindJobFailed
)

type Error struct {
	Kind Kind
	Op   string // 出错的操作，如 "decompose"
	Msg  string // 面向用户的信息
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Msg: "生成服务不可用", Err: err}
}

func Refused(op, msg string) *Error {
	return &Error{Kind: KindRefused, Op: op, Msg: msg}
}

func InvalidResult(op string, err error) *Error {
	return &Error{Kind: KindInvalidResult, Op: op, Msg: "生成结果格式不合法", Err: err}
}

func FailedJob(op, msg string) *Error {
	return &Error{Kind: KindJobFailed, Op: op, Msg: msg}
}

// KindOf 取出错误分类，非 gen.Error 返回 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
