//go:build unit

package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	t.Parallel()

	base := errors.New("provider said no")

	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
		category  Category
	}{
		{name: "nil", err: nil, category: ""},
		{name: "transient rate limit", err: Transient(CategoryRateLimit, base), transient: true, category: CategoryRateLimit},
		{name: "wrapped transient", err: fmt.Errorf("voice: %w", Transient(CategoryTimeout, base)), transient: true, category: CategoryTimeout},
		{name: "permanent policy", err: Permanent(CategoryPolicyRejected, base), permanent: true, category: CategoryPolicyRejected},
		{name: "wrapped permanent", err: fmt.Errorf("visual: %w", Permanent(CategoryInvalidInput, nil)), permanent: true, category: CategoryInvalidInput},
		{name: "unclassified", err: base, transient: true, category: CategoryUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, transient: true, category: CategoryTimeout},
		{name: "canceled", err: fmt.Errorf("call: %w", context.Canceled), category: CategoryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.category, CategoryOf(tt.err))
		})
	}
}

func TestSentinelsAndUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("503")
	transient := Transient(CategoryUnavailable, base)
	permanent := Permanent(CategoryDenied, base)

	assert.ErrorIs(t, transient, ErrTransient)
	assert.ErrorIs(t, transient, base)
	assert.NotErrorIs(t, transient, ErrPermanent)
	assert.ErrorIs(t, permanent, ErrPermanent)
	assert.ErrorIs(t, permanent, base)

	assert.Equal(t, "transient unavailable failure: 503", transient.Error())
	assert.Equal(t, "permanent denied failure", Permanent(CategoryDenied, nil).Error())
}

func TestSummary(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Summary(nil))
	assert.Equal(t, "boom", Summary(errors.New("boom")))

	long := Summary(errors.New(strings.Repeat("x", 400)))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.Len(t, long, 259)
}

func TestSummary_KeepsMultiByteRunesWhole(t *testing.T) {
	t.Parallel()

	// "é" is two bytes, so byte 256 falls inside a rune after one ASCII byte.
	msg := "x" + strings.Repeat("é", 200)

	got := Summary(errors.New(msg))

	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "x"+strings.Repeat("é", 127)+"...", got)

	emoji := Summary(errors.New(strings.Repeat("🎬", 100)))
	assert.True(t, utf8.ValidString(emoji))
	assert.Equal(t, strings.Repeat("🎬", 64)+"...", emoji)
}
