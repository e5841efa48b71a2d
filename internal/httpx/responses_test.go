package httpx

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSuccess_IncludesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-1"))
	w := httptest.NewRecorder()

	JSONSuccess(w, req, map[string]string{"hello": "world"}, map[string]interface{}{"total": 1})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Success bool                   `json:"success"`
		Data    map[string]string      `json:"data"`
		Meta    map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "world", body.Data["hello"])
	assert.Equal(t, "req-1", body.Meta["request_id"])
	assert.EqualValues(t, 1, body.Meta["total"])
}

func TestJSONError_Envelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	JSONError(w, req, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", []ErrorDetail{{Field: "title", Message: "title is required"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	require.Len(t, body.Error.Details, 1)
	assert.Equal(t, "title", body.Error.Details[0].Field)
	assert.Nil(t, body.Meta)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Title string `json:"title"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"Dune"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "Dune", dst.Title)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"Dune","extra":1}`))
	assert.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.Error(t, DecodeJSON(req, &dst))
}

func TestRecoveryMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), AccessLogMiddleware(logger), RecoveryMiddleware(logger))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, logs.String(), "panic recovered")
	assert.Contains(t, logs.String(), `"status":500`)
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Username string `json:"username" validate:"required,min=3,max=50,username"`
		Title    string `json:"title" validate:"notblank"`
		Copies   int    `json:"copies" validate:"gte=0"`
	}

	assert.Empty(t, ValidateStruct(input{Username: "alice", Title: "Dune", Copies: 1}))

	errs := ValidateStruct(input{Username: "a b", Title: "   ", Copies: -1})
	fields := map[string]string{}
	for _, e := range errs {
		fields[e.Field] = e.Message
	}
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields["title"], "required")
	assert.Contains(t, fields["copies"], "at least 0")
}
