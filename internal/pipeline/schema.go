package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the request-schema ceiling for a chat message. The
// input guardrail keeps its own, looser ceiling.
const MaxMessageLength = 1000

type chatRequest struct {
	Message json.RawMessage `json:"message"`
}

type schemaStage struct{ maxChars int }

// SchemaStage decodes the chat request body and enforces the message field
// contract: present, a string, non-blank after trimming and at most
// maxChars characters. The trimmed message becomes ex.Message.
func SchemaStage(maxChars int) Stage {
	if maxChars <= 0 {
		maxChars = MaxMessageLength
	}
	return &schemaStage{maxChars: maxChars}
}

func (s *schemaStage) Name() string   { return "schema" }
func (s *schemaStage) Reaches() State { return StateInputValidated }

func (s *schemaStage) Handle(_ context.Context, ex *Exchange) error {
	var req chatRequest
	dec := json.NewDecoder(bytes.NewReader(ex.Body))
	if err := dec.Decode(&req); err != nil {
		return NewValidationError("Request body must be a JSON object", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return NewValidationError("Request body must be a single JSON object", errors.New("trailing data after JSON object"))
	}

	raw := bytes.TrimSpace(req.Message)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NewValidationError("Field 'message' is required", nil)
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return NewValidationError("Field 'message' must be a string", err)
	}

	msg = strings.TrimSpace(msg)
	if msg == "" {
		return NewValidationError("Field 'message' must not be blank", nil)
	}
	if n := utf8.RuneCountInString(msg); n > s.maxChars {
		return NewValidationError(
			fmt.Sprintf("Field 'message' must be at most %d characters", s.maxChars),
			errors.New("message too long"),
		)
	}

	ex.Message = msg
	return nil
}
