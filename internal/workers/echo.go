package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"analytics-orchestrator/internal/shared/model"
)

// EchoName 内置 Echo Worker 的类型名
const EchoName = "echo"

// Echo 把请求参数与上下文概况原样返回
type Echo struct{}

type echoOutput struct {
	Parameters map[string]string `json:"parameters"`
	SessionID  string            `json:"session_id"`
	Role       model.Role        `json:"role"`
	Entries    int               `json:"context_entries"`
	TurnCount  int               `json:"turn_count"`
	Degraded   bool              `json:"context_degraded"`
}

// EchoDescriptor Echo 的注册描述：ReadOnly，服务 general 类别
func EchoDescriptor() model.WorkerDescriptor {
	return model.WorkerDescriptor{
		TypeName:     EchoName,
		Capabilities: []string{EchoName, model.DefaultCategory},
		Categories:   []string{model.DefaultCategory},
		Tier:         model.TierReadOnly,
		Constructor: func(model.ConstructionArgs) (model.Worker, error) {
			return Echo{}, nil
		},
	}
}

func (Echo) Capabilities() []string               { return []string{EchoName, model.DefaultCategory} }
func (Echo) PermissionTier() model.PermissionTier { return model.TierReadOnly }

// Invoke 返回参数与载荷概况
func (Echo) Invoke(_ context.Context, p *model.Payload, params map[string]string) (*model.WorkerResult, error) {
	out := echoOutput{Parameters: params}
	if out.Parameters == nil {
		out.Parameters = map[string]string{}
	}
	if p != nil {
		out.SessionID, out.Role = p.SessionID, p.Role
		out.Entries, out.TurnCount, out.Degraded = len(p.Entries), p.TurnCount, p.Degraded
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &model.WorkerResult{
		Output: data,
		Digest: fmt.Sprintf("echo: %d context entries", out.Entries),
	}, nil
}
