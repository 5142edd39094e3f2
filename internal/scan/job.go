package scan

import "time"

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
	JobStatusPartial = "partial"
)

// BatchParams 描述一次批量扫描请求。Symbols 为空时按 Quote 拉全市场。
type BatchParams struct {
	Symbols        []string `json:"symbols,omitempty"`
	Quote          string   `json:"quote,omitempty"`
	Interval       string   `json:"interval"`
	Limit          int      `json:"limit,omitempty"`
	SwingLength    int      `json:"swing_length,omitempty"`
	InternalLength int      `json:"internal_length,omitempty"`
}

// Summary 单个符号扫描完成后的压缩结果，挂在任务快照里。
type Summary struct {
	Symbol        string `json:"symbol"`
	RunID         string `json:"run_id,omitempty"`
	Bars          int    `json:"bars"`
	Events        int    `json:"events"`
	SwingTrend    string `json:"swing_trend"`
	InternalTrend string `json:"internal_trend"`
	Error         string `json:"error,omitempty"`
}

// BatchJob 在内存中跟踪批量扫描进度。
type BatchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    BatchParams `json:"params"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Message   string      `json:"message,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Summaries []Summary   `json:"summaries,omitempty"`
}

func (j *BatchJob) copy() BatchJob {
	if j == nil {
		return BatchJob{}
	}
	out := *j
	out.Warnings = append([]string{}, j.Warnings...)
	out.Summaries = append([]Summary{}, j.Summaries...)
	return out
}
