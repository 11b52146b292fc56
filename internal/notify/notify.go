// Package notify delivers cycle outcomes to the source's owner.
//
// Delivery is best-effort: a failed notification is logged and dropped,
// it never fails the scrape cycle that produced it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event kinds.
const (
	KindNewData     = "new_data"
	KindScrapeError = "scrape_error"
)

// Event is one notification-worthy cycle outcome.
type Event struct {
	OwnerID    string
	SourceID   string
	SourceName string
	Kind       string
	NewRecords int
	Duplicates int
	ErrDetail  string
	Link       string
}

// Title renders the event's subject line.
func (e *Event) Title() string {
	if e.Kind == KindScrapeError {
		return fmt.Sprintf("抓取失败：%s", e.SourceName)
	}
	return fmt.Sprintf("发现 %d 条新绿证交易：%s", e.NewRecords, e.SourceName)
}

// Message renders the event's body text.
func (e *Event) Message() string {
	if e.Kind == KindScrapeError {
		return fmt.Sprintf("数据源 %s 本轮抓取失败：%s", e.SourceName, e.ErrDetail)
	}
	return fmt.Sprintf("数据源 %s 新增 %d 条交易记录（重复 %d 条已跳过）。",
		e.SourceName, e.NewRecords, e.Duplicates)
}

// MetadataJSON renders the structured payload stored with the event.
func (e *Event) MetadataJSON() string {
	b, err := json.Marshal(map[string]any{
		"source_id":   e.SourceID,
		"new_records": e.NewRecords,
		"duplicates":  e.Duplicates,
	})
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Notifier delivers one event through one channel.
type Notifier interface {
	Notify(ctx context.Context, ev *Event) error
}

// Fanout delivers to every configured notifier, logging failures instead
// of returning them.
type Fanout struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewFanout creates a Fanout. A nil logger falls back to slog.Default.
func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{notifiers: notifiers, logger: logger}
}

// Notify sends ev through every channel. Always returns nil.
func (f *Fanout) Notify(ctx context.Context, ev *Event) error {
	for _, n := range f.notifiers {
		start := time.Now()
		if err := n.Notify(ctx, ev); err != nil {
			f.logger.Warn("notify: delivery failed",
				"source_id", ev.SourceID,
				"kind", ev.Kind,
				"error", err,
				"elapsed", time.Since(start))
		}
	}
	return nil
}
