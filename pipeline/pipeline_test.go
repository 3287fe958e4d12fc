package alpineami_pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"testing"

	alpineami_conf "github.com/metastable/alpine-ec2-ami/conf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMounter struct {
	mounted   []string
	unmounted []string
}

func (fm *fakeMounter) Mount(source, target, fstype string, flags uintptr, data string) error {
	fm.mounted = append(fm.mounted, target)
	return nil
}

func (fm *fakeMounter) Unmount(target string, flags int) error {
	fm.unmounted = append(fm.unmounted, target)
	return nil
}

type fakeExec struct {
	commands [][]string
	onRun    func(name string, args []string, stdin string) error
}

func (fe *fakeExec) Run(stdin io.Reader, name string, args ...string) error {
	fe.commands = append(fe.commands, append([]string{name}, args...))
	input := ""
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		input = string(data)
	}
	if fe.onRun != nil {
		return fe.onRun(name, args, input)
	}
	return nil
}

// ran returns true if a command starting with the given words was executed
func (fe *fakeExec) ran(words ...string) bool {
	for _, cmd := range fe.commands {
		if len(cmd) >= len(words) && strings.Join(cmd[:len(words)], " ") == strings.Join(words, " ") {
			return true
		}
	}
	return false
}

func testConf(t *testing.T) *alpineami_conf.Config {
	c := alpineami_conf.Defaults()
	c.Device = path.Join(t.TempDir(), "xvdf")
	c.Target = path.Join(t.TempDir(), "target")
	c.Bootloader = "legacy"
	c.Arch = "x86_64"
	return c
}

func TestDefaultStagesAreOrdered(t *testing.T) {
	p, err := NewPipeline(DefaultStages()...)
	require.NoError(t, err)
	assert.Len(t, p.stages, 18)
}

func TestNewPipelineMissingRequirement(t *testing.T) {
	noop := func(*BuildContext) error { return nil }
	_, err := NewPipeline(
		NewStage("mount", []string{"filesystems"}, []string{"root"}, noop),
		NewStage("mkfs", []string{"nodes"}, []string{"filesystems"}, noop),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage mount requires filesystems")
}

func TestNewPipelineConflicts(t *testing.T) {
	noop := func(*BuildContext) error { return nil }
	_, err := NewPipeline(
		NewStage("a", nil, []string{"root"}, noop),
		NewStage("b", nil, []string{"root"}, noop),
	)
	assert.Error(t, err)

	_, err = NewPipeline(
		NewStage("a", nil, nil, noop),
		NewStage("a", nil, nil, noop),
	)
	assert.Error(t, err)
}

func TestRunStopsAndTearsDown(t *testing.T) {
	mounter := &fakeMounter{}
	bc, err := NewBuildContext(testConf(t), &fakeExec{}, mounter)
	require.NoError(t, err)
	workdir := bc.Workdir()
	assert.DirExists(t, workdir)

	boom := fmt.Errorf("boom")
	calls := []string{}
	p, err := NewPipeline(
		NewStage("mount", nil, []string{"root"}, func(bc *BuildContext) error {
			calls = append(calls, "mount")
			_, err := bc.Tree.MountRoot("/dev/xvdf1", bc.Conf.Target)
			return err
		}),
		NewStage("fail", []string{"root"}, nil, func(bc *BuildContext) error {
			calls = append(calls, "fail")
			return boom
		}),
		NewStage("never", nil, nil, func(bc *BuildContext) error {
			calls = append(calls, "never")
			return nil
		}),
	)
	require.NoError(t, err)

	err = p.Run(bc)
	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "fail", serr.Stage)
	assert.True(t, errors.Is(err, boom))

	assert.Equal(t, []string{"mount", "fail"}, calls)
	assert.Equal(t, []string{"mount"}, p.Executed())
	assert.Equal(t, mounter.mounted, mounter.unmounted)
	assert.NoDirExists(t, workdir)

	// Teardown is idempotent
	assert.NoError(t, bc.Teardown())
	assert.Len(t, mounter.unmounted, 1)
}

func TestNewBuildContextUnsupportedEfiArch(t *testing.T) {
	c := testConf(t)
	c.Bootloader = "efi"
	c.Arch = "ppc64le"
	_, err := NewBuildContext(c, &fakeExec{}, &fakeMounter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ppc64le")

	// legacy does not care
	c.Bootloader = "legacy"
	bc, err := NewBuildContext(c, &fakeExec{}, &fakeMounter{})
	require.NoError(t, err)
	assert.NoError(t, bc.Teardown())
}

func TestNewBuildContextUnknownBootloader(t *testing.T) {
	c := testConf(t)
	c.Bootloader = "lilo"
	_, err := NewBuildContext(c, &fakeExec{}, &fakeMounter{})
	assert.Error(t, err)
}

func TestNewBuildContextKeepsConfiguredWorkdir(t *testing.T) {
	c := testConf(t)
	c.Workdir = t.TempDir()
	bc, err := NewBuildContext(c, &fakeExec{}, &fakeMounter{})
	require.NoError(t, err)
	require.NoError(t, bc.Teardown())
	assert.DirExists(t, c.Workdir)
	_, err = os.Stat(c.Workdir)
	assert.NoError(t, err)
}
