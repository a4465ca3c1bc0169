package contextmgr

import (
	"context"
	"math"
	"time"

	"analytics-orchestrator/internal/shared/model"
)

// compactor 把载荷视图压缩到预算以内
//
// 规则：
//   - 条目数超过 MaxEntries 时先合并最早的一段
//   - 再按大小压缩：找最短的最早前缀，使其摘要加上剩余条目不超过预算
//   - 找不到时把除最近条目外的全部合并，摘要长度取剩余空间
//   - 剩余空间不足 MinSummaryChars 时只保留最近条目
//
// 最近的条目永远保持原样；已在预算内的视图不做任何改动。
type compactor struct {
	cfg       *Config
	summarize func(ctx context.Context, entries []model.Entry, limit int) (string, error)
	now       func() time.Time
}

// compact 返回压缩后的视图和本次新建的摘要
func (c *compactor) compact(ctx context.Context, view []model.Entry, budget int) ([]model.Entry, []model.Summary, error) {
	var created []model.Summary

	if maxEntries := c.cfg.MaxEntries; maxEntries > 1 && len(view) > maxEntries {
		k := len(view) - maxEntries + 1
		s, err := c.collapse(ctx, view[:k], c.summaryCap(model.RenderedSize(view[:k])))
		if err != nil {
			return nil, nil, err
		}
		created = append(created, s)
		view = append([]model.Entry{model.SummaryEntry(s)}, view[k:]...)
	}

	if len(view) <= 1 || model.RenderedSize(view) <= budget {
		return view, created, nil
	}

	last := len(view) - 1
	for k := 1; k <= last; k++ {
		run := view[:k]
		start, _ := run[0].Span()
		_, end := run[k-1].Span()
		limit := c.summaryCap(model.RenderedSize(run))
		if len(model.SummaryHeader(start, end))+limit+1+model.RenderedSize(view[k:]) > budget {
			continue
		}
		s, err := c.collapse(ctx, run, limit)
		if err != nil {
			return nil, nil, err
		}
		created = append(created, s)
		view = append([]model.Entry{model.SummaryEntry(s)}, view[k:]...)
		return view, surviving(view, created), nil
	}

	start, _ := view[0].Span()
	_, end := view[last-1].Span()
	room := budget - view[last].Size() - 1 - len(model.SummaryHeader(start, end))
	if room > c.cfg.MaxSummaryChars {
		room = c.cfg.MaxSummaryChars
	}
	if room < c.cfg.MinSummaryChars {
		// 只剩最近条目
		return view[last:], nil, nil
	}
	s, err := c.collapse(ctx, view[:last], room)
	if err != nil {
		return nil, nil, err
	}
	created = append(created, s)
	view = []model.Entry{model.SummaryEntry(s), view[last]}
	return view, surviving(view, created), nil
}

// surviving 过滤掉已被后续摘要再次合并的中间摘要
func surviving(view []model.Entry, created []model.Summary) []model.Summary {
	var out []model.Summary
	for _, s := range created {
		for _, e := range view {
			if e.Kind == model.EntrySummary && e.Summary.StartTurn == s.StartTurn && e.Summary.EndTurn == s.EndTurn {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// summaryCap 一段原文对应的摘要长度上限
func (c *compactor) summaryCap(runSize int) int {
	target := int(math.Ceil(float64(runSize) * (1 - c.cfg.ReductionRatio)))
	if target < c.cfg.MinSummaryChars {
		target = c.cfg.MinSummaryChars
	}
	if target > c.cfg.MaxSummaryChars {
		target = c.cfg.MaxSummaryChars
	}
	return target
}

func (c *compactor) collapse(ctx context.Context, run []model.Entry, limit int) (model.Summary, error) {
	start, _ := run[0].Span()
	_, end := run[len(run)-1].Span()
	text, err := c.summarize(ctx, run, limit)
	if err != nil {
		return model.Summary{}, err
	}
	return model.Summary{
		StartTurn: start,
		EndTurn:   end,
		Text:      model.Truncate(text, limit),
		CreatedAt: c.now(),
	}, nil
}
