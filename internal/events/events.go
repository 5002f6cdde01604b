// Package events は取り込みと候補発見の完了イベントをメッセージバスへ通知する。
// 通知の失敗は呼び出し元の処理を失敗させない。
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hitoshi/fandomwatch/internal/model"
)

const (
	// SubjectRunCompleted はScrapeRunが終端状態になったことを表すサブジェクト。
	SubjectRunCompleted = "scrape_run.completed"
	// SubjectDiscoveryDetected はファンダム候補が検出・更新されたことを表すサブジェクト。
	SubjectDiscoveryDetected = "discovery.detected"
)

// RunCompleted はScrapeRun完了イベントのペイロード。
type RunCompleted struct {
	RunID        string                `json:"run_id"`
	Status       model.ScrapeRunStatus `json:"status"`
	FandomID     string                `json:"fandom_id,omitempty"`
	Platform     model.Platform        `json:"platform,omitempty"`
	SourceJobID  string                `json:"source_job_id"`
	ItemsCount   int                   `json:"items_count"`
	NewItems     int                   `json:"new_items"`
	Discoveries  int                   `json:"discoveries"`
	ErrorMessage string                `json:"error_message,omitempty"`
	CompletedAt  time.Time             `json:"completed_at"`
}

// DiscoveryDetected はファンダム候補イベントのペイロード。
type DiscoveryDetected struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Status        model.DiscoveryStatus `json:"status"`
	Occurrences   int                   `json:"occurrences"`
	OverallScore  int                   `json:"overall_score"`
	Confidence    int                   `json:"confidence"`
	SuggestedTier model.Tier            `json:"suggested_tier"`
	DetectedAt    time.Time             `json:"detected_at"`
}

// NewDiscoveryDetected は候補からイベントを作る。
func NewDiscoveryDetected(d model.FandomDiscovery, at time.Time) DiscoveryDetected {
	return DiscoveryDetected{
		ID:            d.ID,
		Name:          d.Name,
		Status:        d.Status,
		Occurrences:   d.Occurrences,
		OverallScore:  d.OverallScore,
		Confidence:    d.Confidence,
		SuggestedTier: d.SuggestedTier,
		DetectedAt:    at,
	}
}

// Publisher はイベントの送信先。
type Publisher interface {
	PublishRunCompleted(ctx context.Context, ev RunCompleted) error
	PublishDiscoveryDetected(ctx context.Context, ev DiscoveryDetected) error
	Close()
}

// Conn はNATSPublisherが使う接続の操作。*nats.Connが満たす。
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher はNATSへJSONでイベントを送信する。
type NATSPublisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher は接続済みのConnからNATSPublisherを生成する。
// サブジェクトは "<prefix>.<イベント名>" になる。
func NewNATSPublisher(conn Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.Trim(prefix, "."), logger: logger}
}

// Connect はNATSサーバーに接続する。切断・再接続はログに記録する。
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("fandomwatch"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSから切断されました", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATSに再接続しました", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) subject(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

func (p *NATSPublisher) publish(ctx context.Context, name string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗: %w", err)
	}
	subject := p.subject(name)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("イベントの送信に失敗 (%s): %w", subject, err)
	}
	p.logger.Debug("イベントを送信しました", slog.String("subject", subject))
	return nil
}

// PublishRunCompleted はScrapeRun完了イベントを送信する。
func (p *NATSPublisher) PublishRunCompleted(ctx context.Context, ev RunCompleted) error {
	return p.publish(ctx, SubjectRunCompleted, ev)
}

// PublishDiscoveryDetected はファンダム候補イベントを送信する。
func (p *NATSPublisher) PublishDiscoveryDetected(ctx context.Context, ev DiscoveryDetected) error {
	return p.publish(ctx, SubjectDiscoveryDetected, ev)
}

// Close は未送信のメッセージを送り切ってから接続を閉じる。
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS接続のクローズに失敗しました", slog.String("error", err.Error()))
	}
}

// NopPublisher はNATS_URL未設定時に使う、何も送信しないPublisher。
type NopPublisher struct{}

func (NopPublisher) PublishRunCompleted(context.Context, RunCompleted) error { return nil }

func (NopPublisher) PublishDiscoveryDetected(context.Context, DiscoveryDetected) error { return nil }

func (NopPublisher) Close() {}

var (
	_ Publisher = (*NATSPublisher)(nil)
	_ Publisher = NopPublisher{}
	_ Conn      = (*nats.Conn)(nil)
)
