package process

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpataki/nfwatch/internal/models"
)

func TestCommandArgs(t *testing.T) {
	c := Command{
		Pipeline:   "/pipelines/main.nf",
		Configs:    []string{"a.config", "b.config"},
		Profiles:   []string{"docker", "special"},
		Params:     models.Params{{Key: "count", Value: "3"}, {Key: "wait", Value: "1"}},
		ParamsFile: "params.yaml",
		TracePath:  "/runs/1/.nfwatch/trace.txt",
	}

	assert.Equal(t, []string{
		"nextflow",
		"-c", "a.config",
		"-c", "b.config",
		"run", "/pipelines/main.nf",
		"-profile", "docker,special",
		"-params-file", "params.yaml",
		"--count=3", "--wait=1",
		"-with-trace", "/runs/1/.nfwatch/trace.txt",
	}, c.Args())
}

func TestCommandArgsMinimal(t *testing.T) {
	c := Command{Binary: "/opt/nf/bin/nextflow", Pipeline: "hello"}
	assert.Equal(t, []string{"/opt/nf/bin/nextflow", "run", "hello"}, c.Args())
}

func TestCommandEnviron(t *testing.T) {
	assert.Equal(t, []string{"NXF_ANSI_LOG=false"}, Command{}.Environ())

	c := Command{Version: "23.10.1", Env: []string{"FOO=bar"}}
	assert.Equal(t, []string{"NXF_ANSI_LOG=false", "NXF_VER=23.10.1", "FOO=bar"}, c.Environ())
}
