package process

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlace string

func (p fakePlace) String() string { return string(p) }

func TestJobStartWaitSuccess(t *testing.T) {
	job := NewJob()
	pid, err := job.Start("exit 0", nil, "", "", fakePlace("test:1"))
	require.NoError(t, err)
	assert.Greater(t, pid, 0)
	assert.True(t, job.Started())

	success, detail, err := job.Wait()
	require.NoError(t, err)
	assert.True(t, success)
	assert.Empty(t, detail)
}

func TestJobStartWaitFailureExitCode(t *testing.T) {
	job := NewJob()
	_, err := job.Start("exit 3", nil, "", "", fakePlace("test:1"))
	require.NoError(t, err)

	success, detail, err := job.Wait()
	require.NoError(t, err)
	assert.False(t, success)
	assert.Contains(t, detail, "exit code 3")
}

func TestJobOutputRedirect(t *testing.T) {
	dir := t.TempDir()
	out := dir + "/out.txt"
	job := NewJob()
	_, err := job.Start("echo hello", nil, out, "", fakePlace("test:1"))
	require.NoError(t, err)
	success, _, err := job.Wait()
	require.NoError(t, err)
	require.True(t, success)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestJobEnvAdditionsOverlayAndStuStatus(t *testing.T) {
	dir := t.TempDir()
	out := dir + "/out.txt"
	job := NewJob()
	_, err := job.Start("echo $FOO-$STU_STATUS", map[string]string{"FOO": "bar"}, out, "", fakePlace("test:1"))
	require.NoError(t, err)
	success, _, err := job.Wait()
	require.NoError(t, err)
	require.True(t, success)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "bar-1\n", string(data))
}

func TestJobPanicsOnDoubleStart(t *testing.T) {
	job := NewJob()
	_, err := job.Start("exit 0", nil, "", "", fakePlace("test:1"))
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _ = job.Start("exit 0", nil, "", "", fakePlace("test:1"))
	})
	_, _, _ = job.Wait()
}

func TestJobPIDPanicsBeforeStart(t *testing.T) {
	job := NewJob()
	assert.Panics(t, func() { job.PID() })
}

func TestShellDefaultsToBinSh(t *testing.T) {
	old, had := os.LookupEnv("STU_SHELL")
	os.Unsetenv("STU_SHELL")
	defer func() {
		if had {
			os.Setenv("STU_SHELL", old)
		}
	}()
	assert.Equal(t, "/bin/sh", Shell())
}

func TestShellHonorsSTU_SHELL(t *testing.T) {
	old, had := os.LookupEnv("STU_SHELL")
	os.Setenv("STU_SHELL", "/bin/bash")
	defer func() {
		if had {
			os.Setenv("STU_SHELL", old)
		} else {
			os.Unsetenv("STU_SHELL")
		}
	}()
	assert.Equal(t, "/bin/bash", Shell())
}

func TestCheckNotRecursiveRefusesWhenStuStatusSet(t *testing.T) {
	os.Setenv("STU_STATUS", "1")
	defer os.Unsetenv("STU_STATUS")
	assert.Error(t, CheckNotRecursive())
}

func TestCheckNotRecursiveAllowsWhenUnset(t *testing.T) {
	os.Unsetenv("STU_STATUS")
	assert.NoError(t, CheckNotRecursive())
}

func TestSplitCommandTokenizesLikeAShell(t *testing.T) {
	words, err := SplitCommand(`cc -c "out file.c" -o out.o`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cc", "-c", "out file.c", "-o", "out.o"}, words)
}

func TestMergeEnvOverlaysAndAppendsStuStatus(t *testing.T) {
	base := []string{"PATH=/bin", "FOO=old"}
	out := mergeEnv(base, map[string]string{"FOO": "new", "BAR": "baz"})
	joined := map[string]bool{}
	for _, kv := range out {
		joined[kv] = true
	}
	assert.True(t, joined["FOO=new"])
	assert.True(t, joined["PATH=/bin"])
	assert.True(t, joined["BAR=baz"])
	assert.True(t, joined["STU_STATUS=1"])
	assert.Len(t, out, 4)
}
