package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"strux/internal/logger"
)

// SnapshotOptions 控制无头浏览器截图。
type SnapshotOptions struct {
	Timeout time.Duration // 整个截图流程的上限，默认 30s
	Quality int           // PNG/JPEG 质量，默认 90
	Settle  time.Duration // canvas 出现后等待动画收尾的时间，默认 600ms
}

func (o SnapshotOptions) withDefaults() SnapshotOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Quality <= 0 {
		o.Quality = 90
	}
	if o.Settle <= 0 {
		o.Settle = 600 * time.Millisecond
	}
	return o
}

// SnapshotPNG 用无头 Chrome 打开已渲染的 HTML 图表并整页截图。
// 依赖本机存在 Chrome/Chromium，可执行文件由 chromedp 自行探测。
func SnapshotPNG(ctx context.Context, htmlPath, pngPath string, opt SnapshotOptions) error {
	opt = opt.withDefaults()
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("解析路径 %s 失败: %w", htmlPath, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("图表文件不可读: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1480, 820),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, opt.Timeout)
	defer cancelRun()

	var buf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("file://"+abs),
		// echarts 渲染完成后页面里才会出现 canvas
		chromedp.WaitVisible("canvas", chromedp.ByQuery),
		chromedp.Sleep(opt.Settle),
		chromedp.FullScreenshot(&buf, opt.Quality),
	)
	if err != nil {
		return fmt.Errorf("截图失败: %w", err)
	}
	if err := os.WriteFile(pngPath, buf, 0o644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", pngPath, err)
	}
	logger.Infof("[render] 截图已保存 %s (%d bytes)", pngPath, len(buf))
	return nil
}
