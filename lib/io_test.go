package alpineami_lib

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggedExecutorSuccess(t *testing.T) {
	assert.NoError(t, NewLoggedExecutor().Run(strings.NewReader("hello\n"), "sh", "-c", "cat"))
}

func TestLoggedExecutorExitStatus(t *testing.T) {
	err := NewLoggedExecutor().Run(nil, "sh", "-c", "exit 3")
	require.Error(t, err)

	var failed *CommandFailed
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 3, failed.Status)
	assert.Equal(t, []string{"sh", "-c", "exit 3"}, failed.Command)
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := &ValidationError{Device: "/dev/xvdf", Reason: ErrDeviceNotBlank, Detail: "ext4 signature"}
	assert.True(t, errors.Is(err, ErrDeviceNotBlank))
	assert.False(t, errors.Is(err, ErrNotABlockDevice))
	assert.Equal(t, "device /dev/xvdf: device is not blank: ext4 signature", err.Error())
}
