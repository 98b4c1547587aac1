package scoring

import (
	"bytes"
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shRunner(t *testing.T, script string) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("scorer scripts need a POSIX shell")
	}
	return &Runner{Command: "sh", Args: []string{"-c", script}, Timeout: 5 * time.Second}
}

func TestRun_Success(t *testing.T) {
	r := shRunner(t, "cat")

	res := r.Run(context.Background(), []byte(`[{"userId":"u1"}]`))
	require.Equal(t, Success, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, `[{"userId":"u1"}]`, string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.Truncated)
	assert.NoError(t, res.Err)
}

func TestRun_LargeInputIsFullyDelivered(t *testing.T) {
	r := shRunner(t, "wc -c")
	input := bytes.Repeat([]byte("x"), 1<<20)

	res := r.Run(context.Background(), input)
	require.Equal(t, Success, res.Outcome)
	assert.Equal(t, "1048576", strings.TrimSpace(string(res.Stdout)))
}

func TestRun_ChildIgnoringStdin(t *testing.T) {
	r := shRunner(t, "echo '[]'")

	res := r.Run(context.Background(), bytes.Repeat([]byte("x"), 1<<20))
	require.Equal(t, Success, res.Outcome, "err: %v", res.Err)
	assert.Equal(t, "[]\n", string(res.Stdout))
}

func TestRun_ExitError(t *testing.T) {
	r := shRunner(t, "echo partial; echo oops >&2; exit 3")

	res := r.Run(context.Background(), nil)
	assert.Equal(t, ExitError, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", string(res.Stdout))
	assert.Equal(t, "oops\n", string(res.Stderr))
	assert.Error(t, res.Err)
}

func TestRun_SpawnError(t *testing.T) {
	r := &Runner{Command: filepath.Join(t.TempDir(), "no-such-scorer")}

	res := r.Run(context.Background(), []byte("[]"))
	assert.Equal(t, SpawnError, res.Outcome)
	assert.Error(t, res.Err)
	assert.Nil(t, res.Stdout)
}

func TestRun_Timeout(t *testing.T) {
	r := shRunner(t, "echo started; exec sleep 10")
	r.Timeout = 100 * time.Millisecond

	start := time.Now()
	res := r.Run(context.Background(), nil)
	assert.Equal(t, Timeout, res.Outcome)
	assert.Nil(t, res.Stdout, "buffered output is discarded")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_ContextDeadlineIsATimeout(t *testing.T) {
	r := shRunner(t, "exec sleep 10")
	r.Timeout = 0

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res := r.Run(ctx, nil)
	assert.Equal(t, Timeout, res.Outcome)
}

func TestRun_Canceled(t *testing.T) {
	r := shRunner(t, "echo started; exec sleep 10")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := r.Run(ctx, nil)
	assert.Equal(t, Canceled, res.Outcome)
	assert.Nil(t, res.Stdout)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRun_OutputCap(t *testing.T) {
	r := shRunner(t, "i=0; while [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done")
	r.MaxOutputBytes = 100

	res := r.Run(context.Background(), nil)
	require.Equal(t, Success, res.Outcome)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Stdout, 100)
}

func TestRun_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	r := shRunner(t, `printf '%s %s' "$SCORER_MODE" "$(pwd -P)"`)
	r.Env = []string{"SCORER_MODE=strict"}
	r.Dir = dir

	res := r.Run(context.Background(), nil)
	require.Equal(t, Success, res.Outcome)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, "strict "+want, string(res.Stdout))
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 5}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.truncated)

	n, err = b.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, b.truncated)
	assert.Equal(t, "abcde", string(b.Bytes()))
}
