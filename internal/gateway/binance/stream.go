package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"strux/internal/logger"
	"strux/internal/market"
)

// combinedStreamsClient 维护一条 Binance 组合流连接：
// 按 stream 名把帧分发给订阅者，断线后自动重连并重放订阅。
type combinedStreamsClient struct {
	baseURL   string
	batchSize int

	mu          sync.RWMutex
	conn        *websocket.Conn
	subscribers map[string]chan []byte
	subscribed  map[string]bool
	pending     map[int64][]string
	stats       market.SourceStats
	alive       bool

	done chan struct{}

	onConnect    func()
	onDisconnect func(error)
}

func newCombinedStreamsClient(baseURL string, batchSize int) *combinedStreamsClient {
	if batchSize <= 0 {
		batchSize = 150
	}
	return &combinedStreamsClient{
		baseURL:     strings.TrimSpace(baseURL),
		batchSize:   batchSize,
		subscribers: make(map[string]chan []byte),
		subscribed:  make(map[string]bool),
		pending:     make(map[int64][]string),
		done:        make(chan struct{}),
		alive:       true,
	}
}

func (c *combinedStreamsClient) SetCallbacks(onConnect func(), onDisconnect func(error)) {
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
}

func (c *combinedStreamsClient) Connect() error {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.Dial(c.baseURL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop()
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// Close 幂等：关闭连接并给所有订阅者发结束信号。
func (c *combinedStreamsClient) Close() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	conn := c.conn
	c.conn = nil
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = make(map[string]chan []byte)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	close(c.done)
}

// AddSubscriber 注册某个 stream 的接收通道，需在订阅请求发出之前调用。
func (c *combinedStreamsClient) AddSubscriber(stream string, buf int) <-chan []byte {
	ch := make(chan []byte, buf)
	c.mu.Lock()
	c.subscribers[stream] = ch
	c.mu.Unlock()
	return ch
}

// BatchSubscribeKlines 把 symbols 拆成批次逐批订阅 kline stream，
// 批间稍作停顿避免触发服务端的消息频率限制。
func (c *combinedStreamsClient) BatchSubscribeKlines(symbols []string, interval string) error {
	interval = strings.ToLower(strings.TrimSpace(interval))
	for i := 0; i < len(symbols); i += c.batchSize {
		end := i + c.batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		params := make([]string, 0, end-i)
		for _, sym := range symbols[i:end] {
			params = append(params, strings.ToLower(strings.TrimSpace(sym))+"@kline_"+interval)
		}
		if err := c.subscribe(params); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func (c *combinedStreamsClient) subscribe(params []string) error {
	if len(params) == 0 {
		return nil
	}
	id := time.Now().UnixNano()
	msg := map[string]any{"method": "SUBSCRIBE", "params": params, "id": id}
	for attempt := 1; attempt <= 3; attempt++ {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return fmt.Errorf("ws 尚未连接")
		}
		if err := conn.WriteJSON(msg); err != nil {
			if attempt == 3 {
				return err
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		c.mu.Lock()
		for _, p := range params {
			c.subscribed[p] = true
		}
		c.pending[id] = params
		c.mu.Unlock()
		return nil
	}
	return fmt.Errorf("订阅重试均失败")
}

func (c *combinedStreamsClient) readLoop() {
	backoff := time.Second
	for {
		select {
		case <-c.done:
			return
		default:
		}
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			time.Sleep(time.Second)
			continue
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			c.mu.Lock()
			c.stats.Reconnects++
			c.stats.LastError = err.Error()
			alive := c.alive
			c.mu.Unlock()
			if !alive {
				return
			}
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			if err := c.Connect(); err != nil {
				logger.Warnf("[binance] WS 重连失败: %v", err)
				continue
			}
			// 新连接的帧由新 readLoop 接手，本循环退出
			c.resubscribeAll()
			return
		}
		c.dispatchFrame(message)
	}
}

// dispatchFrame 识别三类帧：数据帧、错误帧、订阅 ACK。
func (c *combinedStreamsClient) dispatchFrame(b []byte) {
	var frame struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &frame); err == nil && frame.Stream != "" {
		// 持锁发送：Close 持写锁关通道并清空映射，避免向已关闭通道写入
		c.mu.RLock()
		if ch := c.subscribers[frame.Stream]; ch != nil {
			select {
			case ch <- frame.Data:
			default:
				// 订阅者消费不过来时丢帧，kline 下一帧自带全量状态
			}
		}
		c.mu.RUnlock()
		return
	}
	var eframe struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		ID   int64  `json:"id"`
	}
	if err := json.Unmarshal(b, &eframe); err == nil && eframe.Code != 0 {
		c.mu.Lock()
		c.stats.SubscribeErrors++
		c.stats.LastError = eframe.Msg
		params := c.pending[eframe.ID]
		delete(c.pending, eframe.ID)
		c.mu.Unlock()
		logger.Warnf("[binance] 订阅被拒 code=%d msg=%s", eframe.Code, eframe.Msg)
		if len(params) > 0 {
			_ = c.subscribe(params)
		}
		return
	}
	var ack struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(b, &ack); err == nil && ack.ID != 0 {
		c.mu.Lock()
		delete(c.pending, ack.ID)
		c.mu.Unlock()
	}
}

// resubscribeAll 在重连成功后重放全部订阅。
func (c *combinedStreamsClient) resubscribeAll() {
	c.mu.RLock()
	streams := make([]string, 0, len(c.subscribed))
	for s := range c.subscribed {
		streams = append(streams, s)
	}
	c.mu.RUnlock()
	for i := 0; i < len(streams); i += c.batchSize {
		end := i + c.batchSize
		if end > len(streams) {
			end = len(streams)
		}
		if err := c.subscribe(streams[i:end]); err != nil {
			logger.Warnf("[binance] 重放订阅失败: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (c *combinedStreamsClient) Stats() market.SourceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
