package ragerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"timeout", errors.New("request timeout after 30s"), KindTransient},
		{"rate limit", errors.New("Rate limit reached for requests"), KindTransient},
		{"429", errors.New("POST /v1/embeddings: 429 Too Many Requests"), KindTransient},
		{"503", errors.New("upstream returned 503"), KindTransient},
		{"network", errors.New("dial tcp: connection refused"), KindTransient},
		{"fetch failed", errors.New("TypeError: fetch failed"), KindTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransient},
		{"canceled", context.Canceled, KindPermanent},
		{"malformed", errors.New("invalid character '<' looking for beginning of value"), KindPermanent},
		{"auth", errors.New("401 Unauthorized: invalid api key"), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(StageEmbedding, tt.err)
			assert.Equal(t, tt.want, KindOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_keepsClassifiedErrors(t *testing.T) {
	v := NewValidationError("query", "query must not be empty")
	assert.Same(t, v, Classify(StageQuery, v))

	p := Permanent(StageGeneration, errors.New("empty"))
	assert.Equal(t, p, Classify(StageEmbedding, p))

	assert.Nil(t, Classify(StageQuery, nil))
}

func TestIsRetryable(t *testing.T) {
	base := errors.New("503 service unavailable")
	transient := Transient(StageRetrieval, base)
	exhausted := &RetryExhaustedError{Stage: StageEmbedding, Attempts: 3, Err: transient}

	assert.True(t, IsRetryable(transient))
	assert.True(t, IsRetryable(fmt.Errorf("stage: %w", transient)))
	assert.False(t, IsRetryable(exhausted), "exhausted retries are final even though they wrap a transient error")
	assert.False(t, IsRetryable(Permanent(StageGeneration, base)))
	assert.False(t, IsRetryable(NewValidationError("q", "bad")))
	assert.False(t, IsRetryable(base), "unclassified errors are not retried")
	assert.False(t, IsRetryable(nil))
}

func TestKindOf(t *testing.T) {
	last := Transient(StageGeneration, errors.New("timeout"))
	assert.Equal(t, KindRetryExhausted, KindOf(&RetryExhaustedError{Stage: StageQuery, Attempts: 3, Err: last}))
	assert.Equal(t, KindQueryTimeout, KindOf(&QueryTimeoutError{Attempts: 2, Err: last}))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryExhausted_unwrapsToLastError(t *testing.T) {
	root := errors.New("gateway timeout")
	err := &RetryExhaustedError{Stage: StageQuery, Attempts: 3, Err: Transient(StageGeneration, root)}

	require.ErrorIs(t, err, root)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestPublicMessage(t *testing.T) {
	internal := errors.New("dial tcp 10.0.0.7:5432: connection refused")

	msg := PublicMessage(Transient(StageRetrieval, internal))
	assert.Contains(t, msg, "vector store")
	assert.False(t, strings.Contains(msg, "10.0.0.7"), "internal detail must not leak")

	exhausted := &RetryExhaustedError{Stage: StageQuery, Attempts: 3, Err: Transient(StageGeneration, internal)}
	assert.Contains(t, PublicMessage(exhausted), "language model provider")

	assert.Equal(t, "query must not be empty", PublicMessage(NewValidationError("query", "query must not be empty")))
	assert.Contains(t, PublicMessage(errors.New("x")), "internal error")
}

func TestIsStatusTransient(t *testing.T) {
	for _, s := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsStatusTransient(s), "status %d", s)
	}
	for _, s := range []int{400, 401, 403, 404, 422} {
		assert.False(t, IsStatusTransient(s), "status %d", s)
	}
}
