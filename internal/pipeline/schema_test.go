package pipeline_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollamagate/gateway/internal/pipeline"
)

func TestSchemaStage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
		wantErr string
	}{
		{name: "valid", body: `{"message":"hello"}`, message: "hello"},
		{name: "trimmed", body: `{"message":"  hello \n"}`, message: "hello"},
		{name: "extra fields ignored", body: `{"message":"hi","model":"x"}`, message: "hi"},
		{name: "exactly max", body: `{"message":"` + strings.Repeat("a", 1000) + `"}`, message: strings.Repeat("a", 1000)},
		{name: "max counts characters", body: `{"message":"` + strings.Repeat("é", 1000) + `"}`, message: strings.Repeat("é", 1000)},
		{name: "trailing whitespace ok", body: "{\"message\":\"hi\"}\n  ", message: "hi"},
		{name: "trailing garbage", body: `{"message":"hi"} garbage`, wantErr: "Request body must be a single JSON object"},
		{name: "second object", body: `{"message":"hi"}{"message":""}`, wantErr: "Request body must be a single JSON object"},
		{name: "not json", body: `hello`, wantErr: "Request body must be a JSON object"},
		{name: "empty body", body: ``, wantErr: "Request body must be a JSON object"},
		{name: "array", body: `["hi"]`, wantErr: "Request body must be a JSON object"},
		{name: "missing", body: `{}`, wantErr: "Field 'message' is required"},
		{name: "null", body: `{"message":null}`, wantErr: "Field 'message' is required"},
		{name: "number", body: `{"message":42}`, wantErr: "Field 'message' must be a string"},
		{name: "object", body: `{"message":{"text":"hi"}}`, wantErr: "Field 'message' must be a string"},
		{name: "blank", body: `{"message":" \t "}`, wantErr: "Field 'message' must not be blank"},
		{name: "over max", body: `{"message":"` + strings.Repeat("a", 1001) + `"}`, wantErr: "Field 'message' must be at most 1000 characters"},
	}

	stage := pipeline.SchemaStage(pipeline.MaxMessageLength)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ex := &pipeline.Exchange{Body: []byte(tc.body)}
			err := stage.Handle(context.Background(), ex)

			if tc.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.message, ex.Message)
				return
			}
			perr := asPipelineError(t, err)
			assert.Equal(t, pipeline.KindValidationFailed, perr.Kind)
			assert.Equal(t, tc.wantErr, perr.Message)
			assert.Nil(t, ex.Message)
		})
	}
}

func TestSchemaStage_DefaultsCeiling(t *testing.T) {
	stage := pipeline.SchemaStage(0)
	ex := &pipeline.Exchange{Body: []byte(`{"message":"` + strings.Repeat("a", 1001) + `"}`)}
	assert.Error(t, stage.Handle(context.Background(), ex))
	assert.Equal(t, "schema", stage.Name())
	assert.Equal(t, pipeline.StateInputValidated, stage.Reaches())
}
