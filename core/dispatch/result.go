package dispatch

import "encoding/json"

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the envelope returned for every top-level call. Failures are
// results with IsError set, never protocol errors.
type Result struct {
	Content []Content      `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Meta    map[string]any `json:"_meta,omitempty"`

	CorrelationID string `json:"-"`
	State         State  `json:"-"`
}

type errorBody struct {
	Code          Code   `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

func successResult(call *CallContext, value any) *Result {
	text, ok := value.(string)
	if !ok {
		b, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			call.Logger.Error("encode tool result", "error", err.Error())
			return errorResult(call, &ToolError{Code: CodeInternal, Message: "internal error", Err: err})
		}
		text = string(b)
	}
	return &Result{
		Content:       []Content{{Type: "text", Text: text}},
		Meta:          map[string]any{"correlation_id": call.CorrelationID},
		CorrelationID: call.CorrelationID,
		State:         call.State(),
	}
}

func errorResult(call *CallContext, toolErr *ToolError) *Result {
	b, _ := json.Marshal(errorBody{
		Code:          toolErr.Code,
		Message:       toolErr.Message,
		CorrelationID: call.CorrelationID,
	})
	return &Result{
		Content:       []Content{{Type: "text", Text: string(b)}},
		IsError:       true,
		Meta:          map[string]any{"correlation_id": call.CorrelationID},
		CorrelationID: call.CorrelationID,
		State:         call.State(),
	}
}

// DecodeError extracts the error body of a failed result.
func DecodeError(result *Result) (Code, string, bool) {
	if result == nil || !result.IsError || len(result.Content) == 0 {
		return "", "", false
	}
	var body errorBody
	if err := json.Unmarshal([]byte(result.Content[0].Text), &body); err != nil {
		return "", "", false
	}
	return body.Code, body.Message, true
}
