package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jarvisproj/jarvis/internal/tools"
)

const (
	defaultSearchResults = 4
	maxSearchResults     = 10
	maxRawSearchOutput   = 3000
)

type searchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=搜索关键词"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=返回的最大结果数量（1-10，默认 4）"`
}

type searchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// searchExtraction is what the in-page script returns: structured
// results when the result cards parse, raw page text otherwise.
type searchExtraction struct {
	Type    string         `json:"type"`
	Results []searchResult `json:"results"`
	Content string         `json:"content"`
}

// SearchTool implements web_search over the shared browser session:
// a DuckDuckGo query in a real headless Chrome so results render the
// way they do for a person.
type SearchTool struct {
	browser *Tool
}

// NewSearch builds the search tool on top of an existing browser tool,
// sharing its Chrome session.
func NewSearch(browser *Tool) *SearchTool {
	return &SearchTool{browser: browser}
}

func (t *SearchTool) Name() string {
	return "web_search"
}

func (t *SearchTool) Description() string {
	return "使用 DuckDuckGo 搜索网络信息。适用于获取实时新闻、查询事实、了解最新动态。"
}

func (t *SearchTool) Risk() tools.Risk {
	return tools.RiskDangerous
}

func (t *SearchTool) InputSchema() map[string]any {
	return tools.MustSchema[searchArgs]()
}

func (t *SearchTool) Timeout() time.Duration {
	return t.browser.taskTimeout
}

func (t *SearchTool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[searchArgs](rawArgs)
	if err != nil {
		return nil, err
	}

	query := strings.TrimSpace(a.Query)
	if query == "" {
		return nil, fmt.Errorf("搜索关键词不能为空")
	}
	max := clampResults(a.MaxResults)

	browserCtx, err := t.browser.session()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(browserCtx, t.browser.taskTimeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	var extracted searchExtraction
	if err := chromedp.Run(runCtx,
		chromedp.Navigate("https://duckduckgo.com/?q="+url.QueryEscape(query)),
		chromedp.WaitReady("body"),
		// Result cards render client-side after load.
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(searchScript(max), &extracted),
	); err != nil {
		return nil, fmt.Errorf("搜索失败: %w", err)
	}

	return formatSearch(query, extracted), nil
}

// searchScript extracts up to max result cards, falling back to raw
// page text when the card layout does not parse.
func searchScript(max int) string {
	return fmt.Sprintf(`(() => {
	const items = document.querySelectorAll('article');
	if (items.length > 0) {
		const results = [];
		for (let i = 0; i < Math.min(items.length, %d); i++) {
			const title = items[i].querySelector('h2')?.innerText || '无标题';
			const link = items[i].querySelector('a')?.href || '';
			const snippet = (items[i].querySelector('[data-result="snippet"]')?.innerText ||
				items[i].innerText).substring(0, 300);
			results.push({title: title, link: link, snippet: snippet});
		}
		return {type: 'structured', results: results, content: ''};
	}
	const main = document.querySelector('#react-layout') || document.body;
	return {type: 'raw', results: [], content: main.innerText.substring(0, %d)};
})()`, max, maxRawSearchOutput)
}

func clampResults(n int) int {
	if n <= 0 {
		return defaultSearchResults
	}
	if n > maxSearchResults {
		return maxSearchResults
	}
	return n
}

func formatSearch(query string, ex searchExtraction) string {
	if ex.Type != "structured" || len(ex.Results) == 0 {
		content := strings.TrimSpace(ex.Content)
		if content == "" {
			return fmt.Sprintf("「%s」没有找到结果。", query)
		}
		return fmt.Sprintf("「%s」的搜索页面内容：\n%s", query, content)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "「%s」的搜索结果：\n", query)
	for i, r := range ex.Results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		if r.Link != "" {
			fmt.Fprintf(&b, "   %s\n", r.Link)
		}
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			fmt.Fprintf(&b, "   %s\n", snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
