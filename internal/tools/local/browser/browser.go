// Package browser implements the browser_navigate tool on chromedp: a
// headless Chrome session that persists across calls, so the model
// can navigate, then read, then interact with the same page.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/jarvisproj/jarvis/internal/tools"
)

const maxExtractOutput = 20000

type args struct {
	Action   string `json:"action" jsonschema:"required,enum=navigate,enum=extract,enum=click,enum=type,enum=screenshot,description=浏览器操作"`
	URL      string `json:"url,omitempty" jsonschema:"description=要打开的网址（navigate）"`
	Selector string `json:"selector,omitempty" jsonschema:"description=CSS 选择器（extract/click/type，extract 默认 body）"`
	Text     string `json:"text,omitempty" jsonschema:"description=要输入的文本（type）"`
}

type Tool struct {
	taskTimeout time.Duration
	saveDir     string

	mu        sync.Mutex
	allocCtx  context.Context
	browser   context.Context
	cancelers []context.CancelFunc
}

// New builds the tool. taskTimeout bounds each browser action;
// screenshots are written under saveDir.
func New(taskTimeout time.Duration, saveDir string) *Tool {
	if taskTimeout <= 0 {
		taskTimeout = 300 * time.Second
	}
	return &Tool{taskTimeout: taskTimeout, saveDir: saveDir}
}

func (t *Tool) Name() string {
	return "browser_navigate"
}

func (t *Tool) Description() string {
	return "控制无头浏览器：打开网页、提取页面文本、点击元素、输入文本、截图。浏览器会话在多次调用间保持。"
}

func (t *Tool) Risk() tools.Risk {
	return tools.RiskDangerous
}

func (t *Tool) InputSchema() map[string]any {
	return tools.MustSchema[args]()
}

func (t *Tool) Timeout() time.Duration {
	return t.taskTimeout
}

func (t *Tool) Execute(ctx context.Context, rawArgs map[string]any) (any, error) {
	a, err := tools.DecodeArgs[args](rawArgs)
	if err != nil {
		return nil, err
	}

	browserCtx, err := t.session()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(browserCtx, t.taskTimeout)
	defer cancel()

	// Propagate turn cancellation into the browser action.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	switch a.Action {
	case "navigate":
		if a.URL == "" {
			return nil, fmt.Errorf("url is required for navigate")
		}
		var title string
		if err := chromedp.Run(runCtx,
			chromedp.Navigate(a.URL),
			chromedp.Title(&title),
		); err != nil {
			return nil, fmt.Errorf("navigating to %s: %w", a.URL, err)
		}
		return fmt.Sprintf("已打开页面: %s (%s)", title, a.URL), nil

	case "extract":
		selector := a.Selector
		if selector == "" {
			selector = "body"
		}
		var text string
		if err := chromedp.Run(runCtx,
			chromedp.Text(selector, &text, chromedp.NodeVisible),
		); err != nil {
			return nil, fmt.Errorf("extracting %q: %w", selector, err)
		}
		text = strings.TrimSpace(text)
		if len(text) > maxExtractOutput {
			text = text[:maxExtractOutput] + fmt.Sprintf("\n...[内容已截断，总长度 %d 字符]", len(text))
		}
		if text == "" {
			return "页面中没有匹配的可见文本。", nil
		}
		return text, nil

	case "click":
		if a.Selector == "" {
			return nil, fmt.Errorf("selector is required for click")
		}
		if err := chromedp.Run(runCtx,
			chromedp.Click(a.Selector, chromedp.NodeVisible),
		); err != nil {
			return nil, fmt.Errorf("clicking %q: %w", a.Selector, err)
		}
		return fmt.Sprintf("已点击 %s。", a.Selector), nil

	case "type":
		if a.Selector == "" {
			return nil, fmt.Errorf("selector is required for type")
		}
		if err := chromedp.Run(runCtx,
			chromedp.SendKeys(a.Selector, a.Text, chromedp.NodeVisible),
		); err != nil {
			return nil, fmt.Errorf("typing into %q: %w", a.Selector, err)
		}
		return fmt.Sprintf("已在 %s 输入文本。", a.Selector), nil

	case "screenshot":
		var shot []byte
		if err := chromedp.Run(runCtx,
			chromedp.FullScreenshot(&shot, 90),
		); err != nil {
			return nil, fmt.Errorf("taking screenshot: %w", err)
		}
		path := filepath.Join(t.saveDir, "screenshot-"+uuid.NewString()[:8]+".png")
		if err := os.WriteFile(path, shot, 0o644); err != nil {
			return nil, fmt.Errorf("saving screenshot: %w", err)
		}
		return fmt.Sprintf("截图已保存: %s", path), nil

	default:
		return nil, fmt.Errorf("unknown action %q", a.Action)
	}
}

// session lazily starts the shared headless browser.
func (t *Tool) session() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.browser != nil && t.browser.Err() == nil {
		return t.browser, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Launch now so a missing Chrome binary fails this call, not a
	// later one mid-page.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	t.allocCtx = allocCtx
	t.browser = browserCtx
	t.cancelers = []context.CancelFunc{cancelBrowser, cancelAlloc}
	return t.browser, nil
}

// Close shuts down the browser session if one was started.
func (t *Tool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.cancelers {
		cancel()
	}
	t.cancelers = nil
	t.browser = nil
	t.allocCtx = nil
}
