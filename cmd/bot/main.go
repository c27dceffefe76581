package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tianxingj2021/wangge/internal/controller"
	"github.com/tianxingj2021/wangge/internal/exchange"
	"github.com/tianxingj2021/wangge/internal/services"
	"github.com/tianxingj2021/wangge/internal/strategies"
	"github.com/tianxingj2021/wangge/pkg/config"
	"github.com/tianxingj2021/wangge/pkg/logger"
	"github.com/tianxingj2021/wangge/pkg/persistence"

	// 导入策略包以触发 init() 注册
	_ "github.com/tianxingj2021/wangge/internal/strategies/grid"
	_ "github.com/tianxingj2021/wangge/internal/strategies/slidingwindow"
)

// strategyMount 策略挂载配置（无头模式）
type strategyMount struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params"`
}

type strategyFile struct {
	Strategies []strategyMount `yaml:"strategies"`
}

// loadStrategyFile 加载策略挂载文件并把参数转成 JSON
func loadStrategyFile(path string) ([]strategyMount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取策略文件失败: %w", err)
	}
	var sf strategyFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("解析策略文件失败: %w", err)
	}
	if len(sf.Strategies) == 0 {
		return nil, fmt.Errorf("策略文件 %s 中没有 strategies 配置", path)
	}
	return sf.Strategies, nil
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "配置文件路径")
	strategiesPath := flag.String("strategies", "strategies.yaml", "策略挂载文件路径")
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

	mounts, err := loadStrategyFile(*strategiesPath)
	if err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}

	logrus.Info("🚀 启动网格交易机器人（无头模式）...")

	store, err := persistence.Open(cfg.DataDir)
	if err != nil {
		logrus.Errorf("打开本地存储失败: %v", err)
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	pool := exchange.NewPool()
	publisher := services.NewStatusPublisher(time.Duration(cfg.StatusPushInterval) * time.Second)
	ctrl := controller.New(strategies.GlobalRegistry, pool, store, publisher)

	for i := range cfg.Accounts {
		acc := &cfg.Accounts[i]
		pool.Register(acc, exchange.NewRestExchange(acc))
		logrus.Infof("✅ 账户 %s 已注册（%s）", acc.Name, acc.BaseURL)

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

	started := 0
	for _, mount := range mounts {
		params, err := json.Marshal(mount.Params)
		if err != nil {
			logrus.Errorf("序列化策略 %s 参数失败: %v", mount.Type, err)
			continue
		}
		id, err := ctrl.Create(rootCtx, mount.Type, params)
		if err != nil {
			logrus.Errorf("启动策略 %s 失败: %v", mount.Type, err)
			continue
		}
		logrus.Infof("✅ 策略 %s 已启动（实例 %s）", mount.Type, id)
		started++
	}
	if started == 0 {
		logrus.Error("没有任何策略成功启动")
		os.Exit(1)
	}

	logrus.Infof("✅ 机器人已启动（%d 个策略），按 Ctrl+C 停止", started)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("收到停止信号，正在关闭...")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctrl.Shutdown(shutdownCtx)

	if err := store.Close(); err != nil {
		logrus.Errorf("关闭本地存储失败: %v", err)
	}
	logrus.Info("✅ 机器人已停止")
}
