package variables

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/go-dap"
	"go.uber.org/zap"
)

var (
	//go:embed scripts/variable_info.py
	variableInfoScript string
	//go:embed scripts/dataframe.py
	dataFrameScript string
)

const (
	variableInfoFunc  = "_kbridge_getVariableInfo"
	dataFrameInfoFunc = "_kbridge_getDataFrameInfo"
	dataFrameRowsFunc = "_kbridge_getDataFrameRows"
)

var (
	// ErrDebuggerInactive is returned when no debug session can evaluate
	ErrDebuggerInactive = errors.New("Debugger is not active, cannot evaluate")
	// errNoneResult marks an evaluation that produced Python's None
	errNoneResult = errors.New("evaluation returned None")
)

// rawStringFormat asks the adapter for the unquoted string value
type rawStringFormat struct {
	RawString bool `json:"rawString"`
}

type evaluateArguments struct {
	Expression string           `json:"expression"`
	FrameId    int              `json:"frameId,omitempty"`
	Context    string           `json:"context,omitempty"`
	Format     *rawStringFormat `json:"format,omitempty"`
}

// evaluateRequest is dap.EvaluateRequest with the rawString format flag
type evaluateRequest struct {
	dap.Request
	Arguments evaluateArguments `json:"arguments"`
}

func newEvaluateRequest(expr string, frameID int) *evaluateRequest {
	return &evaluateRequest{
		Request: dap.Request{Command: "evaluate"},
		Arguments: evaluateArguments{
			Expression: expr,
			FrameId:    frameID,
			Context:    "repl",
			Format:     &rawStringFormat{RawString: true},
		},
	}
}

// evaluateRaw runs expr in the top frame, or frameID when no frame is known
func (b *Bridge) evaluateRaw(ctx context.Context, expr string, frameID int) (string, error) {
	b.mu.Lock()
	sess := b.session
	if b.topFrameID != 0 {
		frameID = b.topFrameID
	}
	b.mu.Unlock()
	if sess == nil {
		return "", ErrDebuggerInactive
	}

	resp, err := sess.Request(ctx, newEvaluateRequest(expr, frameID))
	if err != nil {
		return "", err
	}
	er, ok := resp.(*dap.EvaluateResponse)
	if !ok {
		return "", fmt.Errorf("unexpected evaluate response %T", resp)
	}
	return er.Body.Result, nil
}

// evaluate is evaluateRaw where a None result is a failure
func (b *Bridge) evaluate(ctx context.Context, expr string, frameID int) (string, error) {
	result, err := b.evaluateRaw(ctx, expr, frameID)
	if err != nil {
		return "", err
	}
	if result == "None" {
		return "", errNoneResult
	}
	return result, nil
}

// ensureImported injects script once per debug session
func (b *Bridge) ensureImported(ctx context.Context, name, script string, imported map[string]struct{}, frameID int) error {
	b.mu.Lock()
	sess := b.session
	if sess == nil {
		b.mu.Unlock()
		return ErrDebuggerInactive
	}
	id := sess.ID()
	_, done := imported[id]
	b.mu.Unlock()
	if done {
		return nil
	}

	_, err, _ := b.flights.Do("import:"+name+":"+id, func() (any, error) {
		b.mu.Lock()
		_, done := imported[id]
		b.mu.Unlock()
		if done {
			return nil, nil
		}
		quoted, err := json.Marshal(script)
		if err != nil {
			return nil, err
		}
		if _, err := b.evaluateRaw(ctx, "exec("+string(quoted)+")", frameID); err != nil {
			return nil, err
		}
		b.mu.Lock()
		if b.session != nil && b.session.ID() == id {
			imported[id] = struct{}{}
		}
		b.mu.Unlock()
		b.logger.Debug("helper script injected", zap.String("script", name), zap.String("session_id", id))
		return nil, nil
	})
	return err
}
