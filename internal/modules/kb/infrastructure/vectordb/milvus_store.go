package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ChatBase/internal/modules/kb/domain/repository"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

// MilvusStore 是 repository.VectorStore 的 Milvus 实现。
// 所有表达式都带 chatbot_id 过滤，检索结果再做一次归属校验，
// 不一致说明隔离被破坏，按系统级错误上报而不是静默过滤。
type MilvusStore struct {
	cli         mclient.Client
	collection  string
	vectorField string
	metricType  entity.MetricType
	vectorDim   int
	searchParam entity.SearchParam
}

func NewMilvusStore(cli mclient.Client, collection string, vectorDim int, metricType entity.MetricType) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", vectorDim)
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	return &MilvusStore{
		cli:         cli,
		collection:  collection,
		vectorField: "vector",
		metricType:  metricType,
		vectorDim:   vectorDim,
		searchParam: sp,
	}, nil
}

func (s *MilvusStore) Upsert(ctx context.Context, items []repository.VectorUpsertItem) ([]string, error) {
	if len(items) == 0 {
		return []string{}, nil
	}
	ids := make([]string, 0, len(items))
	vectors := make([][]float32, 0, len(items))
	chatbotIDs := make([]string, 0, len(items))
	sourceTypes := make([]string, 0, len(items))
	sourceKeys := make([]string, 0, len(items))
	seqIdxs := make([]int64, 0, len(items))
	versions := make([]int64, 0, len(items))
	contents := make([]string, 0, len(items))
	metas := make([]string, 0, len(items))

	for _, it := range items {
		if it.ID == "" {
			return nil, errors.New("upsert item missing ID")
		}
		if it.ChatbotID == "" {
			return nil, errors.New("upsert item missing ChatbotID")
		}
		if len(it.Vector) != s.vectorDim {
			return nil, fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", it.ID, len(it.Vector), s.vectorDim)
		}
		ids = append(ids, it.ID)
		vectors = append(vectors, it.Vector)
		chatbotIDs = append(chatbotIDs, it.ChatbotID)
		sourceTypes = append(sourceTypes, it.SourceType)
		sourceKeys = append(sourceKeys, it.SourceKey)
		seqIdxs = append(seqIdxs, int64(it.SequenceIndex))
		versions = append(versions, it.Version)
		contents = append(contents, truncateContent(it.Content, 4096))
		metas = append(metas, it.MetadataJSON)
	}

	_, err := s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(s.vectorField, s.vectorDim, vectors),
		entity.NewColumnVarChar("chatbot_id", chatbotIDs),
		entity.NewColumnVarChar("source_type", sourceTypes),
		entity.NewColumnVarChar("source_key", sourceKeys),
		entity.NewColumnInt64("sequence_index", seqIdxs),
		entity.NewColumnInt64("version", versions),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnJSONBytes("metadata", stringSliceToJSONBytes(metas)),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus upsert: %v: %w", err, xerr.ErrStoreUnavailable)
	}
	return ids, nil
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`id in ["%s"]`, strings.Join(ids, `","`))
	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete by ids: %v: %w", err, xerr.ErrStoreUnavailable)
	}
	return nil
}

func (s *MilvusStore) DeleteByChatbot(ctx context.Context, chatbotID string) error {
	if chatbotID == "" {
		return errors.New("chatbotID is empty")
	}
	expr := fmt.Sprintf(`chatbot_id == "%s"`, escapeExpr(chatbotID))
	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete by chatbot: %v: %w", err, xerr.ErrStoreUnavailable)
	}
	return nil
}

func (s *MilvusStore) DeleteBySource(ctx context.Context, chatbotID, sourceType, sourceKey string, maxVersion int64) error {
	if chatbotID == "" {
		return errors.New("chatbotID is empty")
	}
	expr := fmt.Sprintf(`chatbot_id == "%s" && source_type == "%s" && source_key == "%s"`,
		escapeExpr(chatbotID), escapeExpr(sourceType), escapeExpr(sourceKey))
	if maxVersion > 0 {
		expr += fmt.Sprintf(" && version < %d", maxVersion)
	}
	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete by source: %v: %w", err, xerr.ErrStoreUnavailable)
	}
	return nil
}

func (s *MilvusStore) Search(ctx context.Context, chatbotID string, vector []float32, topK int, minSimilarity float64) ([]repository.VectorSearchHit, error) {
	if chatbotID == "" {
		return nil, errors.New("chatbotID is empty")
	}
	if len(vector) != s.vectorDim {
		return nil, fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), s.vectorDim)
	}
	if topK <= 0 {
		topK = 5
	}

	expr := fmt.Sprintf(`chatbot_id == "%s"`, escapeExpr(chatbotID))
	res, err := s.cli.Search(
		ctx,
		s.collection,
		[]string{},
		expr,
		[]string{"chatbot_id", "source_type", "source_key", "sequence_index", "version", "content", "metadata"},
		[]entity.Vector{entity.FloatVector(vector)},
		s.vectorField,
		s.metricType,
		topK,
		s.searchParam,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %v: %w", err, xerr.ErrStoreUnavailable)
	}
	if len(res) == 0 {
		return []repository.VectorSearchHit{}, nil
	}

	hits, err := parseSearchResult(res[0])
	if err != nil {
		return nil, fmt.Errorf("milvus search result: %v: %w", err, xerr.ErrStoreUnavailable)
	}

	out := make([]repository.VectorSearchHit, 0, len(hits))
	for _, h := range hits {
		if h.ChatbotID != chatbotID {
			zlog.Error("vector hit crossed tenant boundary",
				zap.String("want_chatbot", chatbotID),
				zap.String("got_chatbot", h.ChatbotID),
				zap.String("vector_id", h.ID))
			return nil, fmt.Errorf("hit %s belongs to chatbot %s: %w", h.ID, h.ChatbotID, xerr.ErrTenantIsolation)
		}
		if float64(h.Score) < minSimilarity {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func parseSearchResult(sr mclient.SearchResult) ([]repository.VectorSearchHit, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}
	hits := make([]repository.VectorSearchHit, 0, sr.ResultCount)

	idCol := sr.IDs
	chatbotCol := columnByName(sr.Fields, "chatbot_id")
	sourceTypeCol := columnByName(sr.Fields, "source_type")
	sourceKeyCol := columnByName(sr.Fields, "source_key")
	seqCol := columnByName(sr.Fields, "sequence_index")
	versionCol := columnByName(sr.Fields, "version")
	contentCol := columnByName(sr.Fields, "content")
	metaCol := columnByName(sr.Fields, "metadata")

	for i := 0; i < sr.ResultCount; i++ {
		id, _ := idCol.GetAsString(i)
		score := float32(0)
		if i < len(sr.Scores) {
			score = sr.Scores[i]
		}

		h := repository.VectorSearchHit{ID: id, Score: score}
		if chatbotCol != nil {
			v, _ := chatbotCol.GetAsString(i)
			h.ChatbotID = v
		}
		if sourceTypeCol != nil {
			v, _ := sourceTypeCol.GetAsString(i)
			h.SourceType = v
		}
		if sourceKeyCol != nil {
			v, _ := sourceKeyCol.GetAsString(i)
			h.SourceKey = v
		}
		if seqCol != nil {
			v, _ := seqCol.GetAsInt64(i)
			h.SequenceIndex = int(v)
		}
		if versionCol != nil {
			v, _ := versionCol.GetAsInt64(i)
			h.Version = v
		}
		if contentCol != nil {
			v, _ := contentCol.GetAsString(i)
			h.Content = v
		}
		if metaCol != nil {
			v, _ := metaCol.Get(i)
			if bs, ok := v.([]byte); ok {
				h.MetadataJSON = string(bs)
			}
		}
		hits = append(hits, h)
	}

	return hits, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func stringSliceToJSONBytes(values []string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		if v == "" {
			v = "{}"
		}
		out = append(out, []byte(v))
	}
	return out
}

func escapeExpr(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func truncateContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	for len(string(r)) > max {
		r = r[:len(r)-1]
	}
	return string(r)
}

var _ repository.VectorStore = (*MilvusStore)(nil)
