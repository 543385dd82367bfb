package controller

type MyCode int64

const (
	CodeSuccess       MyCode = 1000 + iota // 成功
	CodeInvalidParams                      // 请求参数错误
	CodeNotFound                           // 资源不存在
	CodeSceneBusy                          // 分镜已有进行中的任务
	CodeSceneNotReady                      // 分镜还未就绪
	CodeServerBusy                         // 服务繁忙
)

var msgFlags = map[MyCode]string{
	CodeSuccess:       "success",
	CodeInvalidParams: "请求参数错误",
	CodeNotFound:      "资源不存在",
	CodeSceneBusy:     "分镜已有进行中的任务",
	CodeSceneNotReady: "分镜还未就绪，无法生成视频",
	CodeServerBusy:    "服务繁忙",
}

func (c MyCode) Msg() string {
	msg, ok := msgFlags[c]
	if !ok {
		return msgFlags[CodeServerBusy]
	}
	return msg
}
