package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skyfare/farewatch/internal/config"
	"github.com/skyfare/farewatch/internal/fares"
	"github.com/skyfare/farewatch/internal/fetcher"
	"github.com/skyfare/farewatch/internal/notify"
)

type fakeFetcher struct {
	result fetcher.Result
	calls  int
}

func (f *fakeFetcher) Fetch(context.Context, string, string) fetcher.Result {
	f.calls++
	return f.result
}

type fakeExtractor struct {
	record  fares.Record
	calls   int
	gotHTML string
}

func (e *fakeExtractor) Extract(html, flightNumber string) fares.Record {
	e.calls++
	e.gotHTML = html
	record := e.record
	record.FlightNumber = flightNumber
	return record
}

type sentNotification struct {
	token   string
	title   string
	content string
	format  notify.Format
}

type fakeNotifier struct {
	sent []sentNotification
}

func (n *fakeNotifier) Send(_ context.Context, token, title, content string, format notify.Format) notify.Outcome {
	n.sent = append(n.sent, sentNotification{token, title, content, format})
	return notify.Outcome{Delivered: true, Result: notify.ResultDelivered}
}

func testConfig() config.Config {
	return config.Config{
		Token:        "tok",
		FlightNumber: "ZH9999",
		TargetURL:    "https://example.com/search",
	}
}

func price(v float64) *float64 { return &v }

func newMonitor(f *fakeFetcher, e *fakeExtractor, n Notifier) *Monitor {
	m := New(f, e, n, zap.NewNop())
	m.now = func() time.Time {
		return time.Date(2025, time.May, 12, 10, 30, 0, 0, time.UTC)
	}
	return m
}

func TestRunSuccessSendsMarkdownPrice(t *testing.T) {
	t.Parallel()

	fetchFake := &fakeFetcher{result: fetcher.Result{HTML: "<html>rendered</html>", OK: true}}
	extractFake := &fakeExtractor{record: fares.Record{MinPrice: price(1180.0), Reason: fares.ReasonFound}}
	notifyFake := &fakeNotifier{}

	err := newMonitor(fetchFake, extractFake, notifyFake).Run(context.Background(), testConfig())
	require.NoError(t, err)

	require.Equal(t, 1, extractFake.calls)
	require.Equal(t, "<html>rendered</html>", extractFake.gotHTML)

	require.Len(t, notifyFake.sent, 1)
	sent := notifyFake.sent[0]
	require.Equal(t, "深航 ZH9999 价格更新", sent.title)
	require.Equal(t, notify.FormatMarkdown, sent.format)
	require.Contains(t, sent.content, "¥1180.00")
	require.Contains(t, sent.content, "https://example.com/search")
}

func TestRunFetchFailureSkipsParsing(t *testing.T) {
	t.Parallel()

	fetchFake := &fakeFetcher{result: fetcher.Result{ScreenshotPath: "debug_screenshot.png"}}
	extractFake := &fakeExtractor{}
	notifyFake := &fakeNotifier{}

	err := newMonitor(fetchFake, extractFake, notifyFake).Run(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrFetchFailed)

	require.Zero(t, extractFake.calls, "no parse may be attempted after a failed fetch")
	require.Len(t, notifyFake.sent, 1)
	sent := notifyFake.sent[0]
	require.Equal(t, "深航 ZH9999 抓取失败", sent.title)
	require.Equal(t, notify.FormatHTML, sent.format)
	require.Contains(t, sent.content, "<br>")
	require.NotContains(t, sent.content, "\n")
	require.Contains(t, sent.content, "debug_screenshot.png")
}

func TestRunPartialMarkupStillParsed(t *testing.T) {
	t.Parallel()

	// A content-wait timeout degrades the result but whatever markup was
	// captured still goes through extraction.
	fetchFake := &fakeFetcher{result: fetcher.Result{HTML: "<html>partial</html>", OK: false}}
	extractFake := &fakeExtractor{record: fares.Record{Reason: fares.ReasonContainerMissing}}
	notifyFake := &fakeNotifier{}

	err := newMonitor(fetchFake, extractFake, notifyFake).Run(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrPriceUnavailable)

	require.Equal(t, 1, extractFake.calls)
	require.Len(t, notifyFake.sent, 1)
	require.Equal(t, "深航 ZH9999 查询失败", notifyFake.sent[0].title)
}

func TestRunQueryFailureDistinguishedFromFetchFailure(t *testing.T) {
	t.Parallel()

	fetchFake := &fakeFetcher{result: fetcher.Result{HTML: "<html>no such flight</html>", OK: true}}
	extractFake := &fakeExtractor{record: fares.Record{Reason: fares.ReasonFlightNotFound}}
	notifyFake := &fakeNotifier{}

	err := newMonitor(fetchFake, extractFake, notifyFake).Run(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrPriceUnavailable)
	require.ErrorContains(t, err, string(fares.ReasonFlightNotFound))

	require.Len(t, notifyFake.sent, 1)
	require.Equal(t, "深航 ZH9999 查询失败", notifyFake.sent[0].title)
	require.Equal(t, notify.FormatHTML, notifyFake.sent[0].format)
}

func TestRunCIOmitsScreenshotPointer(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CI = true

	fetchFake := &fakeFetcher{result: fetcher.Result{ScreenshotPath: "debug_screenshot.png"}}
	notifyFake := &fakeNotifier{}

	err := newMonitor(fetchFake, &fakeExtractor{}, notifyFake).Run(context.Background(), cfg)
	require.Error(t, err)

	require.Len(t, notifyFake.sent, 1)
	require.NotContains(t, notifyFake.sent[0].content, "debug_screenshot.png")
}

type refusingNotifier struct {
	sent int
}

func (n *refusingNotifier) Send(context.Context, string, string, string, notify.Format) notify.Outcome {
	n.sent++
	return notify.Outcome{Result: notify.ResultRefused, Detail: "token empty or placeholder"}
}

func TestRunUndeliveredNotificationDoesNotChangeOutcome(t *testing.T) {
	t.Parallel()

	fetchFake := &fakeFetcher{result: fetcher.Result{HTML: "<html>ok</html>", OK: true}}
	extractFake := &fakeExtractor{record: fares.Record{MinPrice: price(999), Reason: fares.ReasonFound}}
	refusing := &refusingNotifier{}

	err := newMonitor(fetchFake, extractFake, refusing).Run(context.Background(), testConfig())
	require.NoError(t, err, "a refused notification must not fail a successful check")
	require.Equal(t, 1, refusing.sent)
}

func TestRunExactlyOneNotificationPerRun(t *testing.T) {
	t.Parallel()

	for name, result := range map[string]fetcher.Result{
		"fetch failed": {},
		"fetch ok":     {HTML: "<html></html>", OK: true},
	} {
		result := result // per-iteration copy; go directive predates Go 1.22 loop scoping
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			notifyFake := &fakeNotifier{}
			m := newMonitor(&fakeFetcher{result: result},
				&fakeExtractor{record: fares.Record{Reason: fares.ReasonNoRows}}, notifyFake)
			_ = m.Run(context.Background(), testConfig())
			if len(notifyFake.sent) != 1 {
				t.Fatalf("expected exactly one notification, got %d", len(notifyFake.sent))
			}
			if strings.Count(notifyFake.sent[0].title, "ZH9999") != 1 {
				t.Fatalf("title should name the flight once: %q", notifyFake.sent[0].title)
			}
		})
	}
}

func TestRunErrorsAreSentinelWrapped(t *testing.T) {
	t.Parallel()

	fetchFake := &fakeFetcher{result: fetcher.Result{}}
	err := newMonitor(fetchFake, &fakeExtractor{}, &fakeNotifier{}).Run(context.Background(), testConfig())
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}
