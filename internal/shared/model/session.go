package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Session 会话：按时间追加的 Turn 序列 + 工作流快照索引
//
// 存储布局中会话元数据与 Turn 日志分开保存，Turns 只在读取时填充。
type Session struct {
	SessionID     string            `json:"session_id"`
	UserID        string            `json:"user_id"`
	Turns         []Turn            `json:"turns,omitempty"`
	Snapshots     map[string]string `json:"snapshots,omitempty"` // workflow_id -> 最新 snapshot_id
	CreatedAt     time.Time         `json:"created_at"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
}

// Turn 一次请求/响应记录（追加后不可变）
type Turn struct {
	// TurnID 会话内单调递增，由追加顺序决定
	TurnID          int64     `json:"turn_id"`
	RequestID       string    `json:"request_id"`
	RequestText     string    `json:"request_text"`
	ResponseSummary string    `json:"response_summary"`
	Category        string    `json:"category"`
	Role            Role      `json:"role_at_time"`
	Timestamp       time.Time `json:"timestamp"`
}

// Render 渲染为载荷文本（不含时间戳，保证输出确定）
func (t Turn) Render() string {
	return fmt.Sprintf("[turn %d %s/%s] Q: %s | A: %s", t.TurnID, t.Role, t.Category, t.RequestText, t.ResponseSummary)
}

// Summary 一段连续 Turn 的有损压缩
type Summary struct {
	StartTurn int64     `json:"start_turn"`
	EndTurn   int64     `json:"end_turn"`
	Text      string    `json:"condensed_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers 是否覆盖指定 Turn
func (s Summary) Covers(turnID int64) bool {
	return turnID >= s.StartTurn && turnID <= s.EndTurn
}

// Render 渲染为载荷文本
func (s Summary) Render() string {
	return SummaryHeader(s.StartTurn, s.EndTurn) + s.Text
}

// SummaryHeader 摘要前缀，用于预先计算可用空间
func SummaryHeader(start, end int64) string {
	return fmt.Sprintf("[summary turns %d-%d] ", start, end)
}

// EntryKind 载荷条目类型
type EntryKind string

const (
	EntryTurn    EntryKind = "turn"
	EntrySummary EntryKind = "summary"
)

// Entry 载荷视图中的条目：Turn 或 Summary（带标签的变体）
type Entry struct {
	Kind    EntryKind `json:"kind"`
	Turn    *Turn     `json:"turn,omitempty"`
	Summary *Summary  `json:"summary,omitempty"`
}

// TurnEntry 包装 Turn
func TurnEntry(t Turn) Entry {
	return Entry{Kind: EntryTurn, Turn: &t}
}

// SummaryEntry 包装 Summary
func SummaryEntry(s Summary) Entry {
	return Entry{Kind: EntrySummary, Summary: &s}
}

// Render 渲染条目
func (e Entry) Render() string {
	switch e.Kind {
	case EntryTurn:
		return e.Turn.Render()
	case EntrySummary:
		return e.Summary.Render()
	}
	return ""
}

// Size 条目大小（字节）
func (e Entry) Size() int {
	return len(e.Render())
}

// Span 条目覆盖的 Turn 范围
func (e Entry) Span() (start, end int64) {
	if e.Kind == EntrySummary {
		return e.Summary.StartTurn, e.Summary.EndTurn
	}
	return e.Turn.TurnID, e.Turn.TurnID
}

// RenderedSize 条目以换行拼接后的总大小
func RenderedSize(entries []Entry) int {
	if len(entries) == 0 {
		return 0
	}
	n := len(entries) - 1
	for _, e := range entries {
		n += e.Size()
	}
	return n
}

// Payload 为某角色优化后的上下文载荷
type Payload struct {
	SessionID  string    `json:"session_id"`
	Role       Role      `json:"role"`
	Entries    []Entry   `json:"entries"`
	SizeBudget int       `json:"size_budget"`
	TurnCount  int       `json:"turn_count"`
	Degraded   bool      `json:"degraded,omitempty"`
	BuiltAt    time.Time `json:"built_at"`
}

// EmptyPayload 降级模式下使用的最小载荷
func EmptyPayload(sessionID string, role Role, budget int) *Payload {
	return &Payload{
		SessionID:  sessionID,
		Role:       role,
		Entries:    []Entry{},
		SizeBudget: budget,
		Degraded:   true,
		BuiltAt:    time.Now(),
	}
}

// Render 渲染载荷文本
func (p *Payload) Render() string {
	parts := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		parts[i] = e.Render()
	}
	return strings.Join(parts, "\n")
}

// Size 载荷大小（字节）
func (p *Payload) Size() int {
	return RenderedSize(p.Entries)
}

// Summaries 返回载荷中的摘要条目
func (p *Payload) Summaries() []Summary {
	var out []Summary
	for _, e := range p.Entries {
		if e.Kind == EntrySummary {
			out = append(out, *e.Summary)
		}
	}
	return out
}

// Truncate 按字节上限截断文本，不切断 UTF-8 字符
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
