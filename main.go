package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squarestorm/client"
	"squarestorm/config"
	"squarestorm/logger"
	"squarestorm/server"
)

// SquareStorm 入口：-mode server 启动会话服务器，-mode client 启动无界面探测客户端
func main() {
	var (
		cfgPath  string
		envFile  string
		mode     string
		host     string
		port     int
		name     string
		httpAddr string
	)
	flag.StringVar(&cfgPath, "config", "squarestorm.yaml", "YAML config file (optional)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with SQUARESTORM_* overrides (optional)")
	flag.StringVar(&mode, "mode", "server", "server | client")
	flag.StringVar(&host, "host", "", "server: bind host; client: server host")
	flag.IntVar(&port, "port", 0, "TCP port (0 keeps the configured value)")
	flag.StringVar(&name, "name", "", "client: player name")
	flag.StringVar(&httpAddr, "http", "", "server: address for /ws /info /metrics /healthz")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	// zap + lumberjack 写入日志文件（带滚动）
	if err := logger.Init(cfg.Log); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "server":
		if host != "" {
			cfg.Server.Host = host
		}
		if port != 0 {
			cfg.Server.Port = port
		}
		if httpAddr != "" {
			cfg.Server.HTTPAddr = httpAddr
		}
		err = runServer(ctx, cfg.Server)
	case "client":
		if host != "" {
			cfg.Client.Host = host
		}
		if port != 0 {
			cfg.Client.Port = port
		}
		if name != "" {
			cfg.Client.PlayerName = name
		}
		err = runClient(ctx, cfg.Client)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		logger.Log.Errorf("%s: %v", mode, err)
		logger.Sync()
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config.Server) error {
	s, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	logger.Log.Infof("SquareStorm session listening on %s", s.Addr())

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	logger.Log.Info("Shutting down...")
	return s.Stop()
}

// runClient 连接服务器，定期 PING 并记录收到的事件，直到断线或收到退出信号
func runClient(ctx context.Context, cfg config.Client) error {
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	if err := c.Connect(ctx, cfg.Host, cfg.Port, cfg.PlayerName); err != nil {
		return err
	}
	defer c.Disconnect()

	log := logger.Named("probe")
	ping := time.NewTicker(time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down...")
			return nil
		case <-ping.C:
			if err := c.SendPing(); err != nil {
				return err
			}
			log.Debugw("status", "latency_ms", c.Latency(), "remotes", len(c.RemotePlayers()))
		case ev, ok := <-c.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case client.EventGameState:
				// 每个 Tick 一条，不逐条记录
			case client.EventPlayerJoined, client.EventPlayerLeft:
				log.Infow(ev.Type.String(), "player", ev.Player.ID, "name", ev.Player.Name)
			case client.EventTeamStatus, client.EventAllReady:
				log.Infow(ev.Type.String(), "teams", ev.Teams)
			case client.EventGameStart, client.EventMinigameAction:
				log.Infow(ev.Type.String(), "data", ev.Data)
			default:
				id, _ := c.LocalPlayerID()
				log.Infow(ev.Type.String(), "player", id)
			}
		}
	}
}
