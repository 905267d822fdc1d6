// Package websocket 向已认证客户端实时推送新邮件通知。
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/middleware"
)

// AddressDirectory 提供用户与其地址的归属关系。
type AddressDirectory interface {
	ListAddressesByUserID(userID string) ([]domain.Address, error)
}

// upgraderFactory 创建带 Origin 校验的升级器。
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 同源请求不携带 Origin
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType WebSocket 消息类型。
type MessageType string

const (
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Frame WebSocket 消息帧。
type Frame struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 一个已认证的 WebSocket 连接。
type Client struct {
	ID        string
	UserID    string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool // 已订阅的地址
	allowed   map[string]bool // 有权订阅的地址
	mu        sync.RWMutex
	log       *zap.Logger
}

// Hub 管理全部连接并按地址分发通知。
type Hub struct {
	clients        map[string]*Client
	subscribers    map[string]map[string]*Client // address -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *broadcastFrame
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	verifier       *middleware.TokenVerifier
	directory      AddressDirectory
}

type broadcastFrame struct {
	address string
	frame   *Frame
}

// NewHub 创建 Hub。
func NewHub(allowedOrigins []string, verifier *middleware.TokenVerifier, directory AddressDirectory, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Hub{
		clients:        make(map[string]*Client),
		subscribers:    make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *broadcastFrame, 256),
		log:            log,
		allowedOrigins: allowedOrigins,
		verifier:       verifier,
		directory:      directory,
	}
}

// Run 运行 Hub 事件循环，直到 ctx 结束。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Info("client registered", zap.String("id", client.ID), zap.String("userID", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for address := range client.addresses {
					if clients, exists := h.subscribers[address]; exists {
						delete(clients, client.ID)
						if len(clients) == 0 {
							delete(h.subscribers, address)
						}
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToAddress(msg.address, msg.frame)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NewMailData 新邮件通知的载荷。
type NewMailData struct {
	MessageID string  `json:"messageId"`
	Address   string  `json:"address"`
	From      string  `json:"from"`
	Subject   string  `json:"subject"`
	Preview   string  `json:"preview,omitempty"`
	SpamScore float64 `json:"spamScore"`
	IsSpam    bool    `json:"isSpam"`
	CreatedAt string  `json:"createdAt"`
}

// NotifyNewMail 向订阅该地址的客户端推送新邮件通知。
func (h *Hub) NotifyNewMail(address string, message *domain.Message) {
	preview := truncateRunes(message.BodyText, 100)

	data, err := json.Marshal(NewMailData{
		MessageID: message.ID,
		Address:   address,
		From:      message.SenderAddress,
		Subject:   message.Subject,
		Preview:   preview,
		SpamScore: message.SpamScore,
		IsSpam:    message.IsSpam,
		CreatedAt: message.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}

	h.broadcast <- &broadcastFrame{
		address: address,
		frame: &Frame{
			Type:      MessageTypeNewMail,
			Address:   address,
			Data:      data,
			Timestamp: time.Now(),
		},
	}
}

// truncateRunes 按字符数截断预览文本，多字节字符不会被截到一半。
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func (h *Hub) broadcastToAddress(address string, frame *Frame) {
	h.mu.RLock()
	clients := h.subscribers[address]
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("failed to marshal frame", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Frame{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.subscribers = make(map[string]map[string]*Client)
}

// authenticateClient 校验令牌并加载该用户可订阅的地址集合。
func (h *Hub) authenticateClient(c *gin.Context) (*Client, error) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if len(header) > 7 && header[:7] == "Bearer " {
			token = header[7:]
		}
	}

	claims, err := h.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	addresses, err := h.directory.ListAddressesByUserID(claims.Subject)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(addresses))
	for _, addr := range addresses {
		allowed[addr.Address] = true
	}

	return &Client{
		ID:        uuid.New().String(),
		UserID:    claims.Subject,
		addresses: make(map[string]bool),
		allowed:   allowed,
		log:       h.log,
	}, nil
}

// HandleWebSocket 处理 WebSocket 升级请求。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		client, err := hub.authenticateClient(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client.conn = conn
		client.hub = hub
		client.send = make(chan []byte, 256)

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}
		c.handleFrame(&frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame *Frame) {
	switch frame.Type {
	case MessageTypeSubscribe:
		c.subscribe(frame.Address)
	case MessageTypeUnsubscribe:
		c.unsubscribe(frame.Address)
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(frame.Type)))
	}
}

func (c *Client) subscribe(address string) {
	if address == "" {
		c.sendError("address is required")
		return
	}

	if !c.allowed[address] {
		c.log.Warn("subscription denied: no permission",
			zap.String("clientID", c.ID),
			zap.String("address", address))
		c.sendError("no permission to access address: " + address)
		return
	}

	c.mu.Lock()
	c.addresses[address] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.subscribers[address] == nil {
		c.hub.subscribers[address] = make(map[string]*Client)
	}
	c.hub.subscribers[address][c.ID] = c
	c.hub.mu.Unlock()

	c.log.Info("subscribed to address",
		zap.String("clientID", c.ID),
		zap.String("address", address),
		zap.String("userID", c.UserID))

	c.sendFrame(&Frame{
		Type:      MessageTypeSubscribed,
		Address:   address,
		Timestamp: time.Now(),
	})
}

func (c *Client) unsubscribe(address string) {
	c.mu.Lock()
	delete(c.addresses, address)
	c.mu.Unlock()

	c.hub.mu.Lock()
	if clients, exists := c.hub.subscribers[address]; exists {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(c.hub.subscribers, address)
		}
	}
	c.hub.mu.Unlock()

	c.log.Info("unsubscribed from address",
		zap.String("clientID", c.ID),
		zap.String("address", address))
}

func (c *Client) sendError(errMsg string) {
	c.sendFrame(&Frame{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func (c *Client) sendFrame(frame *Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.Error("failed to marshal frame", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}
