// Package monitor orchestrates one pipeline run: fetch the rendered fare
// page, extract the minimum price, and notify the operator of the outcome.
// Every run concludes with exactly one notification attempt.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skyfare/farewatch/internal/config"
	"github.com/skyfare/farewatch/internal/fares"
	"github.com/skyfare/farewatch/internal/fetcher"
	"github.com/skyfare/farewatch/internal/notify"
)

// LandingURL is the site root visited before the search URL to acquire
// session cookies.
const LandingURL = "https://www.shenzhenair.com/"

// Run-level failures, reported through the process exit status after the
// failure notification has been sent.
var (
	ErrFetchFailed      = errors.New("page fetch failed")
	ErrPriceUnavailable = errors.New("price unavailable")
)

// PageFetcher captures the rendered search-results markup.
type PageFetcher interface {
	Fetch(ctx context.Context, targetURL, landingURL string) fetcher.Result
}

// FareExtractor finds the minimum fare for a flight in rendered markup.
type FareExtractor interface {
	Extract(html, flightNumber string) fares.Record
}

// Notifier delivers one operator notification.
type Notifier interface {
	Send(ctx context.Context, token, title, content string, format notify.Format) notify.Outcome
}

// Monitor wires the pipeline stages together.
type Monitor struct {
	fetcher   PageFetcher
	extractor FareExtractor
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs a Monitor.
func New(f PageFetcher, e FareExtractor, n Notifier, logger *zap.Logger) *Monitor {
	return &Monitor{
		fetcher:   f,
		extractor: e,
		notifier:  n,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one fetch → extract → notify cycle. The returned error
// reflects the run outcome for the exit status; notification delivery
// problems are logged but never escalate past the notifier.
func (m *Monitor) Run(ctx context.Context, cfg config.Config) error {
	logger := m.logger.With(zap.String("run_id", uuid.NewString()))
	logger.Info("monitor run starting",
		zap.String("flight_number", cfg.FlightNumber),
		zap.Bool("ci", cfg.CI))

	result := m.fetcher.Fetch(ctx, cfg.TargetURL, LandingURL)
	if !result.OK && result.HTML == "" {
		logger.Error("page fetch failed, no markup captured")
		m.sendFailure(ctx, cfg, fetchFailureTitle(cfg.FlightNumber),
			fmt.Sprintf("无法获取目标页面内容。\n查询页面：%s\n请检查环境/浏览器/网络。", cfg.TargetURL),
			result.ScreenshotPath, logger)
		return ErrFetchFailed
	}

	record := m.extractor.Extract(result.HTML, cfg.FlightNumber)
	if record.MinPrice == nil {
		logger.Error("no price extracted", zap.String("reason", string(record.Reason)))
		m.sendFailure(ctx, cfg, queryFailureTitle(cfg.FlightNumber),
			fmt.Sprintf("未能成功查询到航班 %s 的价格信息。\n查询页面：%s\n请检查运行日志。", cfg.FlightNumber, cfg.TargetURL),
			result.ScreenshotPath, logger)
		return fmt.Errorf("%w: %s", ErrPriceUnavailable, record.Reason)
	}

	logger.Info("minimum price found",
		zap.String("flight_number", cfg.FlightNumber),
		zap.Float64("price", *record.MinPrice))

	title := fmt.Sprintf("深航 %s 价格更新", cfg.FlightNumber)
	content := fmt.Sprintf("当前查询到的最低价格为：**¥%.2f**\n\n当前时间：%s\n\n[点击查看详情](%s)",
		*record.MinPrice, m.now().Format("2006-01-02 15:04:05"), cfg.TargetURL)
	outcome := m.notifier.Send(ctx, cfg.Token, title, content, notify.FormatMarkdown)
	logOutcome(logger, outcome)

	logger.Info("monitor run finished")
	return nil
}

func (m *Monitor) sendFailure(ctx context.Context, cfg config.Config, title, content, screenshot string, logger *zap.Logger) {
	// The local screenshot pointer is useless in CI where the filesystem
	// is discarded after the run.
	if !cfg.CI && screenshot != "" {
		content += fmt.Sprintf("\n\n**请查看截图: %s**", screenshot)
	}
	outcome := m.notifier.Send(ctx, cfg.Token, title,
		strings.ReplaceAll(content, "\n", "<br>"), notify.FormatHTML)
	logOutcome(logger, outcome)
}

func logOutcome(logger *zap.Logger, outcome notify.Outcome) {
	if outcome.Delivered {
		logger.Info("notification delivered")
		return
	}
	logger.Error("notification not delivered",
		zap.String("result", string(outcome.Result)),
		zap.String("detail", outcome.Detail))
}

func fetchFailureTitle(flight string) string {
	return fmt.Sprintf("深航 %s 抓取失败", flight)
}

func queryFailureTitle(flight string) string {
	return fmt.Sprintf("深航 %s 查询失败", flight)
}
