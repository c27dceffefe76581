package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/controller"
	"github.com/tianxingj2021/wangge/internal/domain"
	"github.com/tianxingj2021/wangge/internal/services"
)

var log = logrus.WithField("component", "server")

// Server 策略管理 HTTP 服务
type Server struct {
	ctrl      *controller.Controller
	publisher *services.StatusPublisher
	httpSrv   *http.Server
}

// New 创建 HTTP 服务
func New(ctrl *controller.Controller, publisher *services.StatusPublisher) *Server {
	return &Server{ctrl: ctrl, publisher: publisher}
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api/strategy")
	api.GET("/list", s.handleList)
	api.GET("/types", s.handleTypes)
	api.POST("/:id/start", s.handleStart)
	api.POST("/:id/stop", s.handleStop)
	api.POST("/:id/update", s.handleUpdate)
	api.GET("/:id/status", s.handleStatus)
	api.DELETE("/:id", s.handleDelete)

	r.GET("/ws/strategy/:id", s.handleStrategyWS)

	return r
}

// Run 启动 HTTP 服务（阻塞调用）
func (s *Server) Run(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("🌐 HTTP 服务监听 %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// normalizeMarket 交易对标准化：大写，斜杠分隔符换成连字符，
// 缺少计价币时补 -USD
func normalizeMarket(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return m
	}
	m = strings.ReplaceAll(m, "/", "-")
	if !strings.Contains(m, "-") {
		m += "-USD"
	}
	return m
}

// httpStatus 错误分类到 HTTP 状态码的映射
func httpStatus(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrStrategyNotFound:
		return http.StatusNotFound
	case domain.ErrInvalidConfiguration, domain.ErrInsufficientBalance:
		return http.StatusBadRequest
	case domain.ErrStaleState:
		return http.StatusConflict
	case domain.ErrExchangeRejection:
		return http.StatusBadGateway
	case domain.ErrTransientNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"success": false, "error": err.Error()})
}
