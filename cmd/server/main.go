package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tianxingj2021/wangge/internal/controller"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/server"
	"github.com/tianxingj2021/wangge/internal/services"
	"github.com/tianxingj2021/wangge/internal/strategies"
	"github.com/tianxingj2021/wangge/pkg/config"
	"github.com/tianxingj2021/wangge/pkg/logger"
	"github.com/tianxingj2021/wangge/pkg/persistence"
	"github.com/tianxingj2021/wangge/pkg/shutdown"

	// 导入策略包以触发 init() 注册
	_ "github.com/tianxingj2021/wangge/internal/strategies/grid"
	_ "github.com/tianxingj2021/wangge/internal/strategies/slidingwindow"
)

func main() {
	// 加载 .env（尽力而为），不存在时退回真实环境变量
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		OutputFile: cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	logrus.Info("🚀 启动网格交易服务...")

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		logrus.Errorf("打开本地存储失败: %v", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 账户会话池：每个账户一个 REST 适配器，订单操作按账户串行
	pool := exchange.NewPool()
	publisher := services.NewStatusPublisher(time.Duration(cfg.StatusPushInterval) * time.Second)
	ctrl := controller.New(strategies.GlobalRegistry, pool, store, publisher)

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		pool.Register(acc, exchange.NewRestExchange(acc))
		logrus.Infof("✅ 账户 %s 已注册（%s）", acc.Name, acc.BaseURL)

		// 用户数据流：成交/撤单/拒单实时推给全部策略实例
		if acc.WSURL != "" {
			stream := exchange.NewStream(acc.WSURL, acc.APIKey, exchange.StreamHandler{
				OnFill:   ctrl.HandleOrderUpdate,
				OnCancel: ctrl.HandleOrderUpdate,
				OnReject: ctrl.HandleOrderUpdate,
			})
			go stream.Run(rootCtx)
		}
	}

	go publisher.Run(rootCtx)

	httpSrv := server.New(ctrl, publisher)
	go func() {
		if err := httpSrv.Run(cfg.Server.Addr); err != nil {
			logrus.Errorf("HTTP 服务异常退出: %v", err)
		}
	}()

	logrus.Info("✅ 服务已启动，按 Ctrl+C 停止")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("收到停止信号，正在关闭...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr := shutdown.NewManager()
	// HTTP 停止接收新请求，策略撤单不平仓，两者并行收尾
	mgr.OnShutdown(func(ctx context.Context) {
		if err := httpSrv.Shutdown(ctx); err != nil {
			logrus.Errorf("关闭 HTTP 服务失败: %v", err)
		}
	})
	mgr.OnShutdown(func(ctx context.Context) {
		ctrl.Shutdown(ctx)
	})
	mgr.Shutdown(shutdownCtx)

	if err := store.Close(); err != nil {
		logrus.Errorf("关闭本地存储失败: %v", err)
	}
	logrus.Info("✅ 服务已停止")
}
