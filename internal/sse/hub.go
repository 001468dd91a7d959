// Package sse 推送侧信道。引擎只负责在工单创建与完工时
// 发出 {event_type, payload} 消息，投递方式对引擎透明。
package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event 推送事件
type Event struct {
	EventType string `json:"event_type"`
	Payload   string `json:"payload"`
}

// 工单事件类型
const (
	EventWorkOrderCreated   = "work_order_created"
	EventWorkOrderCompleted = "work_order_completed"
)

// Client 一个已连接的订阅端
type Client struct {
	ID     string
	UserID string
	Events chan Event
}

// Hub 管理所有订阅连接
type Hub struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	clients map[string]*Client
}

// NewHub 创建推送中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Register 注册订阅端
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("sse client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)),
	)
}

// Unregister 注销订阅端并关闭其事件通道
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("sse client unregistered",
			zap.String("client_id", clientID),
			zap.Int("total", len(h.clients)),
		)
	}
}

// Broadcast 向所有订阅端发送事件，缓冲满的连接跳过不阻塞
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("sse client buffer full, event dropped",
				zap.String("client_id", client.ID),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

// PublishWorkOrderEvent 发布工单事件
func (h *Hub) PublishWorkOrderEvent(eventType, workOrderID, woNumber, assetID string) {
	payload, _ := json.Marshal(map[string]string{
		"work_order_id": workOrderID,
		"wo_number":     woNumber,
		"asset_id":      assetID,
	})
	h.Broadcast(Event{EventType: eventType, Payload: string(payload)})
	h.logger.Info("work order event published",
		zap.String("event_type", eventType),
		zap.String("work_order_id", workOrderID),
	)
}
