package exec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/bbmigrate/migrate/exec"
)

func TestEx_success(t *testing.T) {
	t.Parallel()

	out, err := exec.Ex(
		context.Background(), "", "echo", "hello",
	)

	require.NoError(t, err)
	assert.Contains(t, out, "hello")
}

func TestEx_with_dir(t *testing.T) {
	t.Parallel()

	out, err := exec.Ex(
		context.Background(), "/tmp", "pwd",
	)

	require.NoError(t, err)
	assert.Contains(t, out, "/tmp")
}

func TestEx_failure(t *testing.T) {
	t.Parallel()

	_, err := exec.Ex(
		context.Background(), "", "false",
	)

	assert.Error(t, err)
}

func TestEx_cancelled_context(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(
		context.Background(),
	)
	cancel()

	_, err := exec.Ex(ctx, "", "sleep", "10")

	assert.Error(t, err)
}
