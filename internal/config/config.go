package config

import (
	"log"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	VectorDim      int    `toml:"vectorDim"`
	MetricType     string `toml:"metricType"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type AIEmbeddingConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	Dimensions      int    `toml:"dimensions"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	BatchSize       int    `toml:"batchSize"`
	User            string `toml:"user"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	AccessKey       string `toml:"accessKey"`
	SecretKey       string `toml:"secretKey"`
	BaseURL         string `toml:"baseURL"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	RetryTimes      int    `toml:"retryTimes"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

// RagConfig 检索与问答链路参数
type RagConfig struct {
	TopK             int     `toml:"topK"`
	MinSimilarity    float64 `toml:"minSimilarity"`
	HistoryLimit     int     `toml:"historyLimit"`
	MaxContextTokens int     `toml:"maxContextTokens"`
	// injectionPolicy: reject | strip
	InjectionPolicy string `toml:"injectionPolicy"`
}

// IngestConfig 知识库摄取链路参数
type IngestConfig struct {
	// mode: sync | kafka
	Mode           string `toml:"mode"`
	ChunkSize      int    `toml:"chunkSize"`
	ChunkOverlap   int    `toml:"chunkOverlap"`
	ChunkStrategy  string `toml:"chunkStrategy"` // token | recursive
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	MaxFileSizeMB  int    `toml:"maxFileSizeMB"`
	// 原始文件落盘目录，kafka 模式下消费端从这里取文件
	UploadDir string `toml:"uploadDir"`
}

// SheetsConfig Google Sheets 同步参数
type SheetsConfig struct {
	SyncIntervalMinutes int `toml:"syncIntervalMinutes"`
	MinIntervalMinutes  int `toml:"minIntervalMinutes"`
	FetchTimeoutSeconds int `toml:"fetchTimeoutSeconds"`
}

// IntegrationsConfig 外部渠道回发配置
type IntegrationsConfig struct {
	TelegramAPIBase    string `toml:"telegramApiBase"`
	WhatsappAPIBase    string `toml:"whatsappApiBase"`
	SendTimeoutSeconds int    `toml:"sendTimeoutSeconds"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type Config struct {
	MainConfig         `toml:"mainConfig"`
	MysqlConfig        `toml:"mysqlConfig"`
	JwtConfig          `toml:"jwtConfig"`
	MilvusConfig       `toml:"milvusConfig"`
	KafkaConfig        `toml:"kafkaConfig"`
	AIConfig           `toml:"aiConfig"`
	RagConfig          `toml:"ragConfig"`
	IngestConfig       `toml:"ingestConfig"`
	SheetsConfig       `toml:"sheetsConfig"`
	IntegrationsConfig `toml:"integrationsConfig"`
	LogConfig          `toml:"logConfig"`
	RedisConfig        `toml:"redisConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := "configs/config_local.toml"
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	return nil
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
	}
	return config
}
