package secret

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superhawk610/dbc/internal/errs"
)

func TestResolve(t *testing.T) {
	r := New()

	t.Run("captures stdout", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), "echo hunter2")
		require.NoError(t, err)
		assert.Equal(t, "hunter2", out)
	})

	t.Run("trims exactly one trailing newline", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), `printf 'pw\n\n'`)
		require.NoError(t, err)
		assert.Equal(t, "pw\n", out)
	})

	t.Run("no trailing newline is fine", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), `printf 'pw'`)
		require.NoError(t, err)
		assert.Equal(t, "pw", out)
	})

	t.Run("interior whitespace survives", func(t *testing.T) {
		out, err := r.Resolve(context.Background(), `printf 'a b c'`)
		require.NoError(t, err)
		assert.Equal(t, "a b c", out)
	})
}

func TestResolveFailures(t *testing.T) {
	t.Run("non-zero exit carries the stderr tail", func(t *testing.T) {
		r := New()
		_, err := r.Resolve(context.Background(), "echo 'vault is sealed' >&2; exit 3")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err))
		assert.Contains(t, err.Error(), "code 3")
		assert.Contains(t, err.Error(), "vault is sealed")
	})

	t.Run("oversized output is rejected", func(t *testing.T) {
		r := New()
		// 128 KiB of output, double the cap
		_, err := r.Resolve(context.Background(), "head -c 131072 /dev/zero")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err))
		assert.Contains(t, err.Error(), "bytes of output")
	})

	t.Run("time budget is enforced", func(t *testing.T) {
		r := New(WithTimeout(100 * time.Millisecond))
		start := time.Now()
		_, err := r.Resolve(context.Background(), "sleep 10")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err))
		assert.Contains(t, err.Error(), "timed out")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("missing executable", func(t *testing.T) {
		r := New()
		_, err := r.Resolve(context.Background(), "/no/such/binary")
		require.Error(t, err)
		assert.True(t, errs.IsAuth(err))
	})
}

func TestResolveStderrStreaming(t *testing.T) {
	var lines []string
	r := New(WithStderrSink(func(line string) {
		lines = append(lines, line)
	}))

	out, err := r.Resolve(context.Background(), "echo 'refreshing token...' >&2; echo 'done' >&2; echo pw")
	require.NoError(t, err)
	assert.Equal(t, "pw", out)
	assert.Equal(t, []string{"refreshing token...", "done"}, lines)
}

func TestResolveLongStderrTailIsBounded(t *testing.T) {
	r := New()
	_, err := r.Resolve(context.Background(), "yes error-line | head -n 1000 >&2; exit 1")
	require.Error(t, err)
	// the tail is an excerpt, not the full stream
	assert.Less(t, len(err.Error()), 4096)
	assert.True(t, strings.Contains(err.Error(), "error-line"))
}
