package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "nil", err: nil, kind: KindUnknown},
		{name: "plain", err: cause, kind: KindUnknown},
		{name: "validation", err: Validation(cause), kind: KindValidation},
		{name: "conflict", err: Conflict(cause), kind: KindConflict},
		{name: "not found", err: NotFound("user", "u1", cause), kind: KindNotFound},
		{name: "transient", err: Transient("get", cause), kind: KindTransient},
		{name: "wrapped transient", err: fmt.Errorf("reconcile: %w", Transient("query", cause)), kind: KindTransient},
		{name: "deadline", err: fmt.Errorf("get: %w", context.DeadlineExceeded), kind: KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestUnwrapKeepsSentinel(t *testing.T) {
	sentinel := errors.New("self referral")
	err := fmt.Errorf("track: %w", Validation(sentinel))

	assert.ErrorIs(t, err, sentinel)
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(Transient("put", sentinel)))
	assert.Equal(t, "user not found: u1", NotFound("user", "u1", nil).Error())
}
