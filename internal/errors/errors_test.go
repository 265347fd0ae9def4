package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Error wrapping preserves original error
func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk I/O error")

	// When: wrapping it as a store error
	err := StoreError("replace chunks", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "no cause",
			err:      New(ErrCodeConfigInvalid, "dimension must be positive", nil),
			expected: "[ERR_101_CONFIG_INVALID] dimension must be positive",
		},
		{
			name:     "with cause",
			err:      New(ErrCodeStoreIO, "open store", errors.New("permission denied")),
			expected: "[ERR_301_STORE_IO] open store: permission denied",
		},
		{
			name:     "wrap reuses cause message",
			err:      Wrap(ErrCodeProviderNetwork, errors.New("connection refused")),
			expected: "[ERR_201_PROVIDER_NETWORK] connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	// Given: a sentinel and a wrapped error with the same code
	sentinel := New(ErrCodeDimensionMismatch, "", nil)
	err := fmt.Errorf("set embeddings: %w", New(ErrCodeDimensionMismatch, "got 3 want 4", nil))

	// Then: they match by code through the chain
	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, New(ErrCodeStoreIO, "", nil)))
}

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
	}{
		{ErrCodeInvalidChunking, CategoryConfig, false},
		{ErrCodeProviderTimeout, CategoryProvider, true},
		{ErrCodeProviderAuth, CategoryProvider, false},
		{ErrCodeStoreIO, CategoryStore, false},
		{ErrCodeQueueFull, CategoryPipeline, true},
		{ErrCodeSearchFailed, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(fmt.Errorf("ctx: %w", err)))
		})
	}
}

func TestIsFatal_SchemaErrors(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeStoreSchema, "bad schema", nil)))
	assert.False(t, IsFatal(New(ErrCodeStoreIO, "io", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a chunking error with a suggestion
	err := ChunkingError("overlap 5 must be less than max tokens 5")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "overlap 5 must be less than max tokens 5")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, ErrCodeInvalidChunking)
}

func TestLogAttrs_PlainError(t *testing.T) {
	attrs := LogAttrs(errors.New("boom"))
	require.Len(t, attrs, 1)
	assert.Equal(t, "error", attrs[0].Key)
}

// ============================================================================
// Retry
// ============================================================================

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice with a retryable error
	calls := 0
	fn := func() (int, error) {
		calls++
		if calls < 3 {
			return 0, New(ErrCodeProviderNetwork, "connection reset", nil)
		}
		return 42, nil
	}

	// When: retrying
	got, err := RetryWithResult(context.Background(), fastRetry(3), fn)

	// Then: the third attempt wins
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: an auth failure
	calls := 0
	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return New(ErrCodeProviderAuth, "invalid api key", nil)
	})

	// Then: no retries happen
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeProviderAuth, GetCode(err))
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return New(ErrCodeProviderTimeout, "timeout", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(3), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry_CustomPredicate(t *testing.T) {
	calls := 0
	cfg := fastRetry(2)
	cfg.ShouldRetry = func(error) bool { return true }

	_ = Retry(context.Background(), cfg, func() error {
		calls++
		return errors.New("plain")
	})
	assert.Equal(t, 3, calls)
}
