// Package knowledgebase implements the knowledge_query and
// knowledge_ingest tools over the local RAG store. Query is safe;
// ingest mutates the store and is dangerous.
package knowledgebase

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jarvisproj/jarvis/internal/knowledge"
	"github.com/jarvisproj/jarvis/internal/tools"
	"github.com/jarvisproj/jarvis/internal/tools/local"
)

const maxIngestFileSize = 1 * 1024 * 1024

type queryArgs struct {
	Query string `json:"query" jsonschema:"required,description=要检索的问题或关键词"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=返回的最相关片段数量（默认 3）"`
}

// QueryTool retrieves relevant chunks from the knowledge base.
type QueryTool struct {
	store *knowledge.Store
}

func NewQuery(store *knowledge.Store) *QueryTool {
	return &QueryTool{store: store}
}

func (t *QueryTool) Name() string {
	return "knowledge_query"
}

func (t *QueryTool) Description() string {
	return "在本地知识库中检索相关内容。回答用户关于已导入文档的问题时调用。"
}

func (t *QueryTool) Risk() tools.Risk {
	return tools.RiskSafe
}

func (t *QueryTool) InputSchema() map[string]any {
	return tools.MustSchema[queryArgs]()
}

func (t *QueryTool) Timeout() time.Duration {
	return 30 * time.Second
}

func (t *QueryTool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[queryArgs](rawArgs)
	if err != nil {
		return nil, err
	}

	results, err := t.store.Query(ctx, a.Query, a.TopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return "知识库中没有找到相关内容。", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] (来源: %s, 相似度: %.2f)\n%s\n\n", i+1, r.Source, r.Similarity, r.Content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type ingestArgs struct {
	Content string `json:"content,omitempty" jsonschema:"description=要导入的原始文本（与 path 二选一）"`
	Path    string `json:"path,omitempty" jsonschema:"description=workspace 内要导入的文件路径（与 content 二选一）"`
	Source  string `json:"source,omitempty" jsonschema:"description=内容来源标识（默认取文件名或 manual）"`
}

// IngestTool adds new content to the knowledge base.
type IngestTool struct {
	store     *knowledge.Store
	workspace *local.Workspace
}

func NewIngest(store *knowledge.Store, workspace *local.Workspace) *IngestTool {
	return &IngestTool{store: store, workspace: workspace}
}

func (t *IngestTool) Name() string {
	return "knowledge_ingest"
}

func (t *IngestTool) Description() string {
	return "把文本或 workspace 内的文件导入本地知识库，供以后检索。"
}

func (t *IngestTool) Risk() tools.Risk {
	return tools.RiskDangerous
}

func (t *IngestTool) InputSchema() map[string]any {
	return tools.MustSchema[ingestArgs]()
}

func (t *IngestTool) Timeout() time.Duration {
	return 120 * time.Second
}

func (t *IngestTool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[ingestArgs](rawArgs)
	if err != nil {
		return nil, err
	}

	content := a.Content
	source := a.Source

	if content == "" {
		if a.Path == "" {
			return nil, fmt.Errorf("either content or path is required")
		}
		abs, err := t.workspace.Resolve(a.Path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", a.Path, err)
		}
		if info.Size() > maxIngestFileSize {
			return nil, fmt.Errorf("file too large to ingest (%d bytes, max %d)", info.Size(), maxIngestFileSize)
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", a.Path, err)
		}
		content = string(data)
		if source == "" {
			source = a.Path
		}
	}
	if source == "" {
		source = "manual"
	}

	n, err := t.store.Ingest(ctx, source, content)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("已导入 %d 个知识片段（来源: %s）。", n, source), nil
}
