package agentrunner

import "encoding/json"

// Wire shapes of the child's stream-json output. Only the fields the
// orchestrator consumes are decoded; unknown fields and line shapes are
// skipped rather than treated as errors, so newer child versions keep
// working.
type wireLine struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Model     string       `json:"model,omitempty"`
	Message   *wireMessage `json:"message,omitempty"`
	IsError   bool         `json:"is_error,omitempty"`
	Result    string       `json:"result,omitempty"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// decodeLine converts one stdout line into zero or more events. Returns nil
// for lines that carry nothing the orchestrator cares about; malformed JSON
// is reported as an error so the caller can log and skip.
func decodeLine(line []byte) ([]Event, error) {
	var wl wireLine
	if err := json.Unmarshal(line, &wl); err != nil {
		return nil, err
	}

	switch wl.Type {
	case "system":
		if wl.Subtype == "init" {
			return []Event{{
				Kind:       KindSystemInit,
				AgentToken: wl.SessionID,
				Model:      wl.Model,
			}}, nil
		}
	case "assistant":
		if wl.Message == nil {
			return nil, nil
		}
		var events []Event
		for _, block := range wl.Message.Content {
			switch block.Type {
			case "thinking":
				events = append(events, Event{Kind: KindThought, Text: block.Thinking})
			case "text":
				events = append(events, Event{Kind: KindResponse, Text: block.Text})
			case "tool_use":
				events = append(events, Event{Kind: KindAction, ToolName: block.Name, Inputs: block.Input})
			}
		}
		return events, nil
	case "user":
		if wl.Message == nil {
			return nil, nil
		}
		var events []Event
		for _, block := range wl.Message.Content {
			if block.Type == "tool_result" {
				events = append(events, Event{Kind: KindActionResult, Outputs: block.Content})
			}
		}
		return events, nil
	case "result":
		if wl.IsError {
			return []Event{{Kind: KindError, Message: wl.Result}}, nil
		}
		// Success results duplicate the last assistant text; the End event is
		// synthesised from the process exit instead.
	}
	return nil, nil
}
