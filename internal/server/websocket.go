package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 管理面板可能跑在不同端口
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleStrategyWS 策略状态推送
// 订阅状态发布器，按推送间隔把快照写给客户端，连接断开自动清理
func (s *Server) handleStrategyWS(c *gin.Context) {
	id := c.Param("id")

	ch, cancel, err := s.publisher.Subscribe(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	log.Infof("📡 策略 %s 的状态订阅建立", id)

	// 读循环只用来感知客户端断开
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				// 策略被删除，通知客户端后收尾
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "strategy removed"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if werr := conn.WriteJSON(snap); werr != nil {
				log.Debugf("推送快照失败，关闭连接: %v", werr)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if werr := conn.WriteMessage(websocket.PingMessage, nil); werr != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}
