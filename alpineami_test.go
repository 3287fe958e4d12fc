package alpineami

import (
	"context"
	"errors"
	"io"
	"testing"

	alpineami_conf "github.com/metastable/alpine-ec2-ami/conf"
	alpineami_lib "github.com/metastable/alpine-ec2-ami/lib"
	alpineami_pipeline "github.com/metastable/alpine-ec2-ami/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExec struct {
	calls int
}

func (ce *countingExec) Run(stdin io.Reader, name string, args ...string) error {
	ce.calls++
	return nil
}

func buildConf(t *testing.T) *alpineami_conf.Config {
	c := alpineami_conf.Defaults()
	c.ApkTools = alpineami_conf.Artifact{URL: "https://example.com/apk-tools-static.apk", SHA256: "00"}
	c.Keys = []alpineami_conf.Artifact{{URL: "https://example.com/key.rsa.pub", SHA256: "00"}}
	c.Workdir = t.TempDir()
	return c
}

func TestBuildUnknownBootloader(t *testing.T) {
	c := buildConf(t)
	c.Bootloader = "lilo"
	exec := &countingExec{}

	err := NewImageBuilder(c).SetExecutor(exec).Build(context.Background())
	var unknown *alpineami_lib.UnknownBootloader
	require.True(t, errors.As(err, &unknown), "got %v", err)
	assert.Equal(t, "lilo", unknown.Name)
	assert.Zero(t, exec.calls)
}

func TestBuildRunsStages(t *testing.T) {
	c := buildConf(t)
	c.Bootloader = "legacy"
	seen := []string{}
	stage := func(name string) alpineami_pipeline.Stage {
		return alpineami_pipeline.NewStage(name, nil, nil, func(bc *alpineami_pipeline.BuildContext) error {
			seen = append(seen, name)
			return nil
		})
	}

	err := NewImageBuilder(c).SetExecutor(&countingExec{}).SetStages(stage("first"), stage("second")).
		Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
}
