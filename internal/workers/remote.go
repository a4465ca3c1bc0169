// Package workers Worker 适配器
//
//   - Remote：配置中声明的 HTTP Worker，POST {payload, parameters}
//   - Echo：内置 Worker，保证服务开箱即可应答
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"analytics-orchestrator/internal/registry"
	"analytics-orchestrator/internal/shared/model"
)

// maxResponseBytes 远程响应体上限
const maxResponseBytes = 8 << 20

// Spec 远程 Worker 声明
type Spec struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Capabilities []string          `yaml:"capabilities"`
	Categories   []string          `yaml:"categories"`
	Tier         string            `yaml:"tier"`
	Priority     int               `yaml:"priority"`
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers"`
}

// Validate 校验声明，Tier 为空时按 read-only 处理
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("worker name is required")
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("worker %s: url must be an absolute http(s) URL, got %q", s.Name, s.URL)
	}
	if len(s.Capabilities) == 0 {
		return fmt.Errorf("worker %s: at least one capability is required", s.Name)
	}
	if s.Tier == "" {
		s.Tier = model.TierReadOnly.String()
	}
	if _, err := model.ParseTier(s.Tier); err != nil {
		return fmt.Errorf("worker %s: %w", s.Name, err)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("worker %s: timeout must not be negative", s.Name)
	}
	return nil
}

// Descriptor 生成注册描述，构造出的 Remote 共享同一个 http.Client
func (s Spec) Descriptor(client *http.Client) (model.WorkerDescriptor, error) {
	if err := s.Validate(); err != nil {
		return model.WorkerDescriptor{}, err
	}
	tier, _ := model.ParseTier(s.Tier)
	if client == nil {
		client = http.DefaultClient
	}
	return model.WorkerDescriptor{
		TypeName:     s.Name,
		Capabilities: s.Capabilities,
		Categories:   s.Categories,
		Tier:         tier,
		Priority:     s.Priority,
		Constructor: func(model.ConstructionArgs) (model.Worker, error) {
			return &Remote{spec: s, tier: tier, client: client}, nil
		},
	}, nil
}

// Register 把声明的远程 Worker 注册到 Registry
func Register(reg *registry.Registry, specs []Spec, client *http.Client) error {
	for i := range specs {
		desc, err := specs[i].Descriptor(client)
		if err != nil {
			return fmt.Errorf("workers[%d]: %w", i, err)
		}
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("workers[%d]: %w", i, err)
		}
	}
	return nil
}

// Remote 通过 HTTP 调用的 Worker
type Remote struct {
	spec   Spec
	tier   model.PermissionTier
	client *http.Client
}

type invokeRequest struct {
	Payload    *model.Payload    `json:"payload"`
	Parameters map[string]string `json:"parameters"`
}

// Capabilities 声明的能力
func (r *Remote) Capabilities() []string { return r.spec.Capabilities }

// PermissionTier 所需等级
func (r *Remote) PermissionTier() model.PermissionTier { return r.tier }

// Invoke 调用远程端点
//
// 网络错误、429 与 5xx 包装为 errdefs.ErrUnavailable（可重试），
// 其余 4xx 包装为 errdefs.ErrInvalidArgument（不重试、不计入熔断）。
// 响应为 {"output": ..., "digest": ..., "state": ...} 时按字段解析，否则整个响应体作为 output。
func (r *Remote) Invoke(ctx context.Context, payload *model.Payload, params map[string]string) (*model.WorkerResult, error) {
	if r.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.spec.Timeout)
		defer cancel()
	}
	if params == nil {
		params = map[string]string{}
	}
	body, err := json.Marshal(invokeRequest{Payload: payload, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("worker %s: encode request: %w", r.spec.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.spec.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w: %w", r.spec.Name, errdefs.ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range r.spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("worker %s: %w", r.spec.Name, ctx.Err())
		}
		return nil, fmt.Errorf("worker %s: %w: %w", r.spec.Name, errdefs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("worker %s: read response: %w: %w", r.spec.Name, errdefs.ErrUnavailable, err)
	}
	if err := statusError(r.spec.Name, resp.StatusCode, data); err != nil {
		return nil, err
	}
	return decodeResult(r.spec.Name, data)
}

func statusError(name string, status int, body []byte) error {
	if status < 300 {
		return nil
	}
	msg := model.Truncate(strings.TrimSpace(string(body)), 200)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("worker %s: status %d %s: %w", name, status, msg, errdefs.ErrUnavailable)
	default:
		return fmt.Errorf("worker %s: status %d %s: %w", name, status, msg, errdefs.ErrInvalidArgument)
	}
}

func decodeResult(name string, data []byte) (*model.WorkerResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &model.WorkerResult{Output: json.RawMessage("null")}, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("worker %s: response is not valid JSON: %w", name, errdefs.ErrDataLoss)
	}
	var res model.WorkerResult
	if err := json.Unmarshal(data, &res); err == nil && len(res.Output) > 0 {
		return &res, nil
	}
	return &model.WorkerResult{Output: json.RawMessage(data)}, nil
}
