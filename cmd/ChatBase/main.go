package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	https_server "ChatBase/api/http"
	"ChatBase/internal/config"
	"ChatBase/pkg/zlog"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.MainConfig.Host
	port := conf.MainConfig.Port

	// 2. 启动后台组件：表格定时同步，kafka 模式下的外发中继和摄取消费者
	ctx, cancel := context.WithCancel(context.Background())
	https_server.StartBackground(ctx)

	// 3. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		// 目前使用 HTTP 启动。如果需要 HTTPS，请配置证书并使用 GE.RunTLS
		if err := https_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}

		// 使用 HTTPS 启动
		// if err := https_server.GE.RunTLS(addr, "cert.pem", "key.pem"); err != nil {
		// 	zlog.Fatal("服务器启动失败: " + err.Error())
		// 	return
		// }
	}()

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 等待退出信号
	<-quit

	zlog.Info("正在关闭服务器...")
	cancel()
	https_server.StopBackground()

	zlog.Info("服务器已关闭")
}
