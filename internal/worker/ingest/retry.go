package ingest

import (
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/fandomwatch/internal/model"
)

const (
	// initialBackoff は再実行の初回遅延（1分）。
	initialBackoff = time.Minute
	// maxBackoff は再実行の最大遅延（30分）。
	maxBackoff = 30 * time.Minute
	// DefaultMaxRetries は一時的な失敗に対する再実行の既定回数。
	DefaultMaxRetries = 3
)

// CalculateBackoff は再実行回数に基づいて指数バックオフ遅延を計算する。
// 初回1分、2倍ずつ増加、最大30分。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

type retryEntry struct {
	req       model.IngestRequest
	notBefore time.Time
}

// retryQueue は一時的に失敗した取り込み要求を、バックオフ後に再投入するまで保持する。
// 終端状態のScrapeRunは書き換えられないため、再実行は新しいScrapeRunとして投入する。
type retryQueue struct {
	mu         sync.Mutex
	maxRetries int
	attempts   map[string]int
	waiting    map[string]retryEntry
}

func newRetryQueue(maxRetries int) *retryQueue {
	return &retryQueue{
		maxRetries: maxRetries,
		attempts:   map[string]int{},
		waiting:    map[string]retryEntry{},
	}
}

func requestKey(req model.IngestRequest) string {
	return strings.Join([]string{req.SourceJobID, req.DatasetHandle, req.FandomID, string(req.Platform)}, "|")
}

// schedule は要求を再実行待ちに入れ、遅延を返す。再実行回数を使い切った場合はfalse。
func (q *retryQueue) schedule(req model.IngestRequest, now time.Time) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	k := requestKey(req)
	n := q.attempts[k]
	if n >= q.maxRetries {
		delete(q.attempts, k)
		return 0, false
	}
	delay := CalculateBackoff(n)
	q.attempts[k] = n + 1
	q.waiting[k] = retryEntry{req: req, notBefore: now.Add(delay)}
	return delay, true
}

// succeeded は要求の再実行回数をリセットする。
func (q *retryQueue) succeeded(req model.IngestRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.attempts, requestKey(req))
}

// due は遅延を過ぎた要求を待ち行列から取り出す。
func (q *retryQueue) due(now time.Time) []model.IngestRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.IngestRequest
	for k, e := range q.waiting {
		if now.Before(e.notBefore) {
			continue
		}
		out = append(out, e.req)
		delete(q.waiting, k)
	}
	return out
}
