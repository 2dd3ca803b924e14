package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"UsefulTimer/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	// 系统消息
	MsgTypePing      MessageType = "ping"      // 心跳
	MsgTypePong      MessageType = "pong"      // 心跳响应
	MsgTypeError     MessageType = "error"     // 错误消息
	MsgTypeSubscribe MessageType = "subscribe" // 切换关注的计时器，timerId 为空表示全部

	// 播放消息
	MsgTypeState  MessageType = "state"  // 状态变化
	MsgTypeFire   MessageType = "fire"   // 报时点触发
	MsgTypePlayed MessageType = "played" // 播放完成
	MsgTypeSkip   MessageType = "skip"   // 跳过（缺少音频或播放失败）
	MsgTypeCue    MessageType = "cue"    // 需要客户端播放的报时

	// 数据消息
	MsgTypeStoreChanged MessageType = "store_changed" // 存储被外部修改
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	TimerID   string          `json:"timerId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

const (
	sendBufferSize = 64
	readLimit      = 4096
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// Client WebSocket 客户端
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	ID      string
	timerID string // 为空时接收所有计时器的消息
}

// NewClient 创建客户端，timerID 为空表示关注全部计时器
func NewClient(hub *Hub, conn *websocket.Conn, timerID string) *Client {
	return &Client{
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		ID:      uuid.NewString(),
		timerID: timerID,
	}
}

// TimerID 当前关注的计时器
func (c *Client) TimerID() string {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	return c.timerID
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	TimerID string // 为空时发给所有客户端
	Message []byte
}

// Hub 播放事件的 WebSocket 推送中心，按计时器分组
type Hub struct {
	// 计时器 id → 客户端集合，"" 组接收全部消息
	topics map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub 创建 Hub，需要调用 Run 启动主循环
func NewHub() *Hub {
	return &Hub{
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToTopic(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub，关闭所有客户端的发送通道
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.topics[client.timerID] == nil {
		h.topics[client.timerID] = make(map[*Client]bool)
	}
	h.topics[client.timerID][client] = true

	logger.Info("client registered",
		logger.String("client", client.ID),
		logger.String("timer", client.timerID))
}

// removeClient 移除客户端（需要持有锁）
func (h *Hub) removeClient(client *Client) {
	clients, ok := h.topics[client.timerID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.topics, client.timerID)
	}

	logger.Info("client unregistered",
		logger.String("client", client.ID),
		logger.String("timer", client.timerID))
}

func (h *Hub) broadcastToTopic(msg *BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make([]*Client, 0)
	if msg.TimerID == "" {
		for _, clients := range h.topics {
			for client := range clients {
				targets = append(targets, client)
			}
		}
	} else {
		for client := range h.topics[msg.TimerID] {
			targets = append(targets, client)
		}
		for client := range h.topics[""] {
			targets = append(targets, client)
		}
	}

	for _, client := range targets {
		select {
		case client.Send <- msg.Message:
		default:
			// 发送缓冲区满，移除客户端
			logger.Warn("client send buffer full, dropping", logger.String("client", client.ID))
			h.removeClient(client)
		}
	}
}

// cleanup 清理所有连接
func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.topics {
		for client := range clients {
			close(client.Send)
		}
	}
	h.topics = make(map[string]map[*Client]bool)
}

// Register 注册客户端，Hub 停止后直接关闭发送通道
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast 广播消息，timerID 为空时发给所有客户端
func (h *Hub) Broadcast(timerID string, message []byte) {
	_ = h.BroadcastContext(context.Background(), timerID, message)
}

// BroadcastContext 同 Broadcast，广播队列满时最多等到 ctx 结束
func (h *Hub) BroadcastContext(ctx context.Context, timerID string, message []byte) error {
	select {
	case h.broadcast <- &BroadcastMessage{TimerID: timerID, Message: message}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BroadcastWSMessage 序列化后广播
func (h *Hub) BroadcastWSMessage(msg *WSMessage) error {
	return h.sendWSMessage(context.Background(), msg)
}

func (h *Hub) sendWSMessage(ctx context.Context, msg *WSMessage) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return h.BroadcastContext(ctx, msg.TimerID, data)
}

// Resubscribe 切换客户端关注的计时器
func (h *Hub) Resubscribe(client *Client, timerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.topics[client.timerID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.topics, client.timerID)
	}
	client.timerID = timerID
	if h.topics[timerID] == nil {
		h.topics[timerID] = make(map[*Client]bool)
	}
	h.topics[timerID][client] = true
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.topics {
		n += len(clients)
	}
	return n
}

// TimerClientCount 关注指定计时器的连接数（不含关注全部的连接）
func (h *Hub) TimerClientCount(timerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[timerID])
}

func encode(msg *WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UnixMilli()
	return json.Marshal(msg)
}

func newMessage(t MessageType, timerID string, payload any) (*WSMessage, error) {
	msg := &WSMessage{Type: t, TimerID: timerID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return msg, nil
}

// ========== Client 方法 ==========

// ReadPump 读取消息循环，处理心跳和订阅切换
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("client", c.ID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format",
				logger.ErrorField(err),
				logger.String("client", c.ID))
			c.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case MsgTypePing:
			c.SendMessage(&WSMessage{Type: MsgTypePong})
		case MsgTypeSubscribe:
			c.Hub.Resubscribe(c, msg.TimerID)
			c.SendMessage(&WSMessage{Type: MsgTypeSubscribe, TimerID: msg.TimerID})
		default:
			c.sendError("unsupported message type: " + string(msg.Type))
		}
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 直接发送给该客户端，缓冲区满时丢弃
func (c *Client) SendMessage(msg *WSMessage) {
	data, err := encode(msg)
	if err != nil {
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if !c.Hub.topics[c.timerID][c] {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Client) sendError(text string) {
	msg, err := newMessage(MsgTypeError, "", map[string]string{"error": text})
	if err == nil {
		c.SendMessage(msg)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS 升级为 WebSocket 连接，?timer= 指定关注的计时器
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := NewClient(h, conn, r.URL.Query().Get("timer"))
	h.Register(client)

	go client.WritePump()
	// 请求结束后连接由 ReadPump 负责，不能使用 r.Context()
	go client.ReadPump(context.Background())
}
