// teamhubのエントリポイント。
// REST API、WebSocketによるリアルタイム配信、ヘルスチェックとメトリクスを1つのプロセスで提供する。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/config"
	"github.com/nao1215/teamhub/internal/logging"
	"github.com/nao1215/teamhub/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// TEAMHUB_CONFIG が指定されていればYAMLの設定ファイルも読む
	cfg, err := config.Load(os.Getenv("TEAMHUB_CONFIG"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("サーバーの初期化に失敗", zap.Error(err))
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("teamhubが異常終了しました", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
