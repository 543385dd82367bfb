package sse

// Hub 管理按故事板订阅的 SSE 客户端。
//
// topic 为故事板 ID，分镜补丁事件发布到对应 topic 后广播给所有订阅通道。
// subscribe/unsubscribe/publish 三个控制通道由 Run 单协程串行处理，
// topics 结构不需要额外加锁。
type Hub struct {
	// topic -> 客户端 channel 集合。channel 由订阅方（SSE handler）创建并负责关闭，
	// Hub 只负责向其发送消息。
	topics map[string]map[chan []byte]bool

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
}

type subscription struct {
	ch    chan []byte
	topic string
}

type topicMessage struct {
	topic string
	msg   []byte
}

var defaultHub *Hub

// NewHub 创建 Hub。publish 通道带缓冲（100），缓冲短时突发的事件发布。
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan []byte]bool),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 100),
	}
}

// SetDefaultHub sets the package-level default hub
func SetDefaultHub(h *Hub) {
	defaultHub = h
}

// GetHub returns the default hub (may be nil if not set)
func GetHub() *Hub {
	return defaultHub
}

// Run 启动事件循环，应在单独的 goroutine 中运行：
//
//	hub := sse.NewHub()
//	go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan []byte]bool)
				h.topics[s.topic] = subs
			}
			subs[s.ch] = true
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case tm := <-h.publish:
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// drop if client not reading
				}
			}
		}
	}
}

// PublishTopic 把消息发布到指定 topic 的所有订阅者
func (h *Hub) PublishTopic(topic string, msg []byte) {
	h.publish <- topicMessage{topic: topic, msg: msg}
}

// Subscribe 注册订阅通道，调用方应提供带缓冲的 channel 并负责取消订阅后关闭
func (h *Hub) Subscribe(ch chan []byte, topic string) {
	h.subscribe <- subscription{ch: ch, topic: topic}
}

// Unsubscribe 取消订阅
func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	h.unsubscribe <- subscription{ch: ch, topic: topic}
}
