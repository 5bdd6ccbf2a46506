package repository

import "context"

// VectorStore 是 domain 层定义的"向量库能力抽象"。
//
// 设计约束：
// 1) application / domain 只能依赖本接口，不应直接依赖 Milvus SDK。
// 2) infrastructure 通过适配器实现本接口（MilvusStore / MemoryStore）。
//
// 隔离约定：所有读写删除都必须携带 ChatbotID，实现层负责把它落到过滤条件里。
// 检索结果再次校验 ChatbotID，不一致视为系统级故障而不是空结果。

// VectorUpsertItem 向量写入所需的标准字段
type VectorUpsertItem struct {
	ID            string
	Vector        []float32
	ChatbotID     string
	SourceType    string
	SourceKey     string
	SequenceIndex int
	Version       int64
	Content       string
	MetadataJSON  string
}

type VectorSearchHit struct {
	ID            string
	Score         float32
	ChatbotID     string
	SourceType    string
	SourceKey     string
	SequenceIndex int
	Version       int64
	Content       string
	MetadataJSON  string
}

// VectorStore 向量数据库接口
type VectorStore interface {
	Upsert(ctx context.Context, items []VectorUpsertItem) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	// DeleteByChatbot 删除某机器人的全部向量（级联删除时用）
	DeleteByChatbot(ctx context.Context, chatbotID string) error
	// DeleteBySource 删除某来源的向量；maxVersion > 0 时只删低于该代次的旧数据
	DeleteBySource(ctx context.Context, chatbotID, sourceType, sourceKey string, maxVersion int64) error
	// Search 按向量搜索，minSimilarity 之下的命中被丢弃
	Search(ctx context.Context, chatbotID string, vector []float32, topK int, minSimilarity float64) ([]VectorSearchHit, error)
}
