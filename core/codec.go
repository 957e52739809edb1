package core

import (
	"encoding/json"
	"fmt"
)

// wirePart is the tagged JSON envelope for the closed Part set.
type wirePart struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Data             map[string]any    `json:"data,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

const (
	partText             = "text"
	partData             = "data"
	partFunctionCall     = "function_call"
	partFunctionResponse = "function_response"
)

func encodePart(p Part) (wirePart, error) {
	switch v := p.(type) {
	case TextPart:
		return wirePart{Type: partText, Text: v.Text, Metadata: v.Metadata}, nil
	case DataPart:
		return wirePart{Type: partData, Data: v.Data, Metadata: v.Metadata}, nil
	case FunctionCallPart:
		fc := v.FunctionCall
		return wirePart{Type: partFunctionCall, FunctionCall: &fc, Metadata: v.Metadata}, nil
	case FunctionResponsePart:
		fr := v.FunctionResponse
		return wirePart{Type: partFunctionResponse, FunctionResponse: &fr, Metadata: v.Metadata}, nil
	default:
		return wirePart{}, fmt.Errorf("unsupported part type %T", p)
	}
}

func decodePart(w wirePart) (Part, error) {
	switch w.Type {
	case partText:
		return TextPart{Text: w.Text, Metadata: w.Metadata}, nil
	case partData:
		return DataPart{Data: w.Data, Metadata: w.Metadata}, nil
	case partFunctionCall:
		if w.FunctionCall == nil {
			return nil, fmt.Errorf("function_call part without payload")
		}
		return FunctionCallPart{FunctionCall: *w.FunctionCall, Metadata: w.Metadata}, nil
	case partFunctionResponse:
		if w.FunctionResponse == nil {
			return nil, fmt.Errorf("function_response part without payload")
		}
		return FunctionResponsePart{FunctionResponse: *w.FunctionResponse, Metadata: w.Metadata}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", w.Type)
	}
}

type turnAlias Turn

type wireTurn struct {
	turnAlias
	Parts []wirePart `json:"parts"`
}

// MarshalJSON encodes parts as tagged objects.
func (t Turn) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, 0, len(t.Parts))
	for _, p := range t.Parts {
		wp, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, wp)
	}
	return json.Marshal(wireTurn{turnAlias: turnAlias(t), Parts: parts})
}

// UnmarshalJSON decodes tagged part objects back into the closed Part set.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var w wireTurn
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Turn(w.turnAlias)
	t.Parts = make([]Part, 0, len(w.Parts))
	for _, wp := range w.Parts {
		p, err := decodePart(wp)
		if err != nil {
			return err
		}
		t.Parts = append(t.Parts, p)
	}
	return nil
}
