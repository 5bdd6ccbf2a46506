package http

import (
	"context"
	"time"

	"ChatBase/internal/config"
	"ChatBase/internal/initial"
	jwtMiddleware "ChatBase/internal/middleware/jwt"
	chatService "ChatBase/internal/modules/chat/application/service"
	"ChatBase/internal/modules/chat/infrastructure/guard"
	"ChatBase/internal/modules/chat/infrastructure/llm"
	chatPersistence "ChatBase/internal/modules/chat/infrastructure/persistence"
	chatPipeline "ChatBase/internal/modules/chat/infrastructure/pipeline"
	chatHandler "ChatBase/internal/modules/chat/interface/http"
	kbService "ChatBase/internal/modules/kb/application/service"
	kbRepo "ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/internal/modules/kb/infrastructure/chunking"
	kbEmbedding "ChatBase/internal/modules/kb/infrastructure/embedding"
	"ChatBase/internal/modules/kb/infrastructure/gsheets"
	"ChatBase/internal/modules/kb/infrastructure/mq/kafka"
	kbPersistence "ChatBase/internal/modules/kb/infrastructure/persistence"
	kbPipeline "ChatBase/internal/modules/kb/infrastructure/pipeline"
	"ChatBase/internal/modules/kb/infrastructure/queue"
	"ChatBase/internal/modules/kb/infrastructure/vectordb"
	kbHandler "ChatBase/internal/modules/kb/interface/http"
	"ChatBase/internal/modules/kb/interface/scheduler"
	"ChatBase/internal/modules/user/application/service"
	"ChatBase/internal/modules/user/infrastructure/persistence"
	userHandler "ChatBase/internal/modules/user/interface/http"
	"ChatBase/pkg/ssl"
	"ChatBase/pkg/ws"
	"ChatBase/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mentity "github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

var GE *gin.Engine

// 后台组件，由 main 统一启停
var (
	sheetSyncManager *scheduler.SheetSyncManager
	outboxRelay      *queue.OutboxRelay
	ingestWorker     *queue.IngestConsumerWorker
)

func init() {
	conf := config.GetConfig()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	wsHub := ws.NewHub()
	notifier := kbHandler.NewHubNotifier(wsHub)

	// 仓储
	userRepo := persistence.NewUserInfoRepository(initial.GormDB)
	botRepo := kbPersistence.NewChatbotRepository(initial.GormDB)
	docRepo := kbPersistence.NewDocumentRepository(initial.GormDB)
	chunkRepo := kbPersistence.NewChunkRepository(initial.GormDB)
	sheetRepo := kbPersistence.NewSheetRepository(initial.GormDB)
	eventRepo := kbPersistence.NewIngestEventRepository(initial.GormDB)
	convRepo := chatPersistence.NewConversationRepository(initial.GormDB)
	msgRepo := chatPersistence.NewMessageRepository(initial.GormDB)
	integRepo := chatPersistence.NewIntegrationRepository(initial.GormDB)

	// 向量存储，Milvus 未配置时退化为进程内存储
	var vs kbRepo.VectorStore
	if initial.MilvusClient != nil {
		ms, err := vectordb.NewMilvusStore(initial.MilvusClient, conf.MilvusConfig.CollectionName, conf.MilvusConfig.VectorDim, metricTypeOf(conf.MilvusConfig.MetricType))
		if err != nil {
			zlog.Fatal("初始化 Milvus 向量存储失败", zap.Error(err))
			return
		}
		vs = ms
	} else {
		zlog.Warn("Milvus 未配置，使用内存向量存储，数据不会持久化")
		vs = vectordb.NewMemoryStore()
	}

	ctx := context.Background()

	embedderInner, embMeta, err := kbEmbedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal("初始化向量化模型失败", zap.Error(err))
		return
	}
	embedder := kbEmbedding.NewBatchEmbedder(embedderInner, conf.AIConfig.Embedding.BatchSize, conf.AIConfig.Embedding.RetryTimes)
	zlog.Info("向量化模型就绪", zap.String("provider", embMeta.Provider), zap.String("model", embMeta.Model), zap.Int("dim", embMeta.Dim))

	chatModel, modelMeta, err := llm.NewChatModelFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal("初始化对话模型失败", zap.Error(err))
		return
	}
	zlog.Info("对话模型就绪", zap.String("provider", modelMeta.Provider), zap.String("model", modelMeta.Model))

	chunker := chunking.NewStrategy(conf.IngestConfig.ChunkStrategy, conf.IngestConfig.ChunkSize, conf.IngestConfig.ChunkOverlap)
	ingestPipe, err := kbPipeline.NewIngestPipeline(chunkRepo, vs, embedder, chunker, embMeta.Dim)
	if err != nil {
		zlog.Fatal("初始化摄取流水线失败", zap.Error(err))
		return
	}

	injectionGuard := guard.NewGuard(conf.RagConfig.InjectionPolicy)
	answerPipe, err := chatPipeline.NewAnswerPipeline(msgRepo, convRepo, vs, embedder, chatModel, injectionGuard, chatPipeline.AnswerOptions{
		TopK:             conf.RagConfig.TopK,
		MinSimilarity:    conf.RagConfig.MinSimilarity,
		HistoryLimit:     conf.RagConfig.HistoryLimit,
		MaxContextTokens: conf.RagConfig.MaxContextTokens,
	})
	if err != nil {
		zlog.Fatal("初始化问答流水线失败", zap.Error(err))
		return
	}

	// 服务
	userSvc := service.NewUserInfoService(userRepo)
	botSvc := kbService.NewChatbotService(botRepo, docRepo, sheetRepo, chunkRepo, vs, nil)
	docSvc := kbService.NewDocumentService(botSvc, botRepo, docRepo, chunkRepo, eventRepo, vs, ingestPipe, notifier, kbService.DocumentServiceOptions{
		Mode:           conf.IngestConfig.Mode,
		TimeoutSeconds: conf.IngestConfig.TimeoutSeconds,
		MaxFileSizeMB:  conf.IngestConfig.MaxFileSizeMB,
		UploadDir:      conf.IngestConfig.UploadDir,
	})
	fetcher := gsheets.NewFetcher(time.Duration(conf.SheetsConfig.FetchTimeoutSeconds) * time.Second)
	sheetSvc := kbService.NewSheetService(botSvc, botRepo, sheetRepo, chunkRepo, vs, fetcher, ingestPipe, notifier, kbService.SheetServiceOptions{
		DefaultIntervalMinutes: conf.SheetsConfig.SyncIntervalMinutes,
		MinIntervalMinutes:     conf.SheetsConfig.MinIntervalMinutes,
		FetchTimeoutSeconds:    conf.SheetsConfig.FetchTimeoutSeconds,
	})
	convSvc := chatService.NewConversationService(convRepo, msgRepo, botSvc)
	botSvc.BindConversationCleaner(convSvc)
	chatSvc := chatService.NewChatService(botSvc, convSvc, answerPipe)
	integSvc := chatService.NewIntegrationService(integRepo, botSvc)

	// 后台组件
	sheetSyncManager = scheduler.NewSheetSyncManager(sheetRepo, sheetSvc, conf.SheetsConfig.SyncIntervalMinutes)
	if conf.IngestConfig.Mode == "kafka" {
		if err := kafka.EnsureTopic(kafka.TopicAdminConfig{Brokers: conf.KafkaConfig.Brokers, ClientID: conf.KafkaConfig.ClientID}, conf.KafkaConfig.IngestTopic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
			zlog.Fatal("创建摄取主题失败", zap.Error(err))
			return
		}
		pub, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{Brokers: conf.KafkaConfig.Brokers, ClientID: conf.KafkaConfig.ClientID})
		if err != nil {
			zlog.Fatal("初始化 Kafka 生产者失败", zap.Error(err))
			return
		}
		outboxRelay = queue.NewOutboxRelay(eventRepo, pub, conf.KafkaConfig.IngestTopic, 100, 500*time.Millisecond)
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  conf.KafkaConfig.Brokers,
			GroupID:  conf.KafkaConfig.ConsumerGroupID,
			Topics:   []string{conf.KafkaConfig.IngestTopic},
			ClientID: conf.KafkaConfig.ClientID,
		})
		if err != nil {
			zlog.Fatal("初始化 Kafka 消费者失败", zap.Error(err))
			return
		}
		ingestWorker = queue.NewIngestConsumerWorker(consumer, eventRepo, docSvc)
	}

	// 处理器
	userH := userHandler.NewUserInfoHandler(userSvc)
	botH := kbHandler.NewChatbotHandler(botSvc)
	docH := kbHandler.NewDocumentHandler(docSvc)
	sheetH := kbHandler.NewSheetHandler(sheetSvc)
	statusWsH := kbHandler.NewStatusWsHandler(wsHub)
	chatH := chatHandler.NewChatHandler(chatSvc)
	convH := chatHandler.NewConversationHandler(convSvc)
	integH := chatHandler.NewIntegrationHandler(integSvc)
	widgetH := chatHandler.NewWidgetHandler(chatSvc, botSvc)
	webhookH := chatHandler.NewWebhookHandler(chatSvc, integSvc, conf.IntegrationsConfig)

	// 公开路由
	GE.POST("/login", userH.Login)
	GE.POST("/register", userH.Register)
	GE.GET("/ws/status", statusWsH.Connect)

	// 嵌入式小部件，匿名访问
	GE.GET("/widget/:botId/info", widgetH.Info)
	GE.POST("/widget/:botId/chat", widgetH.Chat)
	GE.POST("/widget/:botId/chat/stream", widgetH.ChatStream)

	// 第三方平台回调
	GE.GET("/webhooks/whatsapp/:botId", webhookH.Verify)
	GE.POST("/webhooks/:platform/:botId", webhookH.Handle)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"uuid":     c.GetString("uuid"),
			"username": c.GetString("username"),
		})
	})

	authed.POST("/chatbots", botH.Create)
	authed.GET("/chatbots", botH.List)
	authed.GET("/chatbots/:id", botH.Get)
	authed.PATCH("/chatbots/:id", botH.Update)
	authed.DELETE("/chatbots/:id", botH.Delete)

	authed.POST("/chatbots/:id/documents", docH.Upload)
	authed.GET("/chatbots/:id/documents", docH.List)
	authed.GET("/chatbots/:id/documents/:docId", docH.Get)
	authed.DELETE("/chatbots/:id/documents/:docId", docH.Delete)

	authed.POST("/chatbots/:id/gsheets", sheetH.Add)
	authed.GET("/chatbots/:id/gsheets", sheetH.List)
	authed.POST("/chatbots/:id/gsheets/:sheetId/sync", sheetH.Sync)
	authed.DELETE("/chatbots/:id/gsheets/:sheetId", sheetH.Delete)

	authed.POST("/chatbots/:id/chat", chatH.Chat)
	authed.POST("/chatbots/:id/chat/stream", chatH.ChatStream)

	authed.GET("/chatbots/:id/conversations", convH.List)
	authed.GET("/conversations/:id/messages", convH.History)
	authed.DELETE("/conversations/:id", convH.Delete)

	authed.PUT("/chatbots/:id/integrations", integH.Upsert)
	authed.GET("/chatbots/:id/integrations", integH.List)
	authed.DELETE("/chatbots/:id/integrations/:platform", integH.Delete)
}

func metricTypeOf(name string) mentity.MetricType {
	switch name {
	case "L2":
		return mentity.L2
	case "IP":
		return mentity.IP
	default:
		return mentity.COSINE
	}
}

// StartBackground 启动表格轮询与 Kafka 摄取链路，入口 main 调用。
func StartBackground(ctx context.Context) {
	sheetSyncManager.Start()
	if outboxRelay != nil {
		go func() {
			if err := outboxRelay.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("事件外发中继退出", zap.Error(err))
			}
		}()
	}
	if ingestWorker != nil {
		go func() {
			if err := ingestWorker.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("摄取消费者退出", zap.Error(err))
			}
		}()
	}
}

// StopBackground 停止后台组件，Kafka 链路由 context 取消收尾。
func StopBackground() {
	sheetSyncManager.Stop()
}
