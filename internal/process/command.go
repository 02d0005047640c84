package process

import (
	"strings"

	"github.com/mpataki/nfwatch/internal/models"
)

// Environment variables the engine honours.
const (
	EnvVersion = "NXF_VER"
	EnvAnsiLog = "NXF_ANSI_LOG"
)

// Command is a fully described engine invocation.
type Command struct {
	Binary     string
	Pipeline   string
	Configs    []string
	Profiles   []string
	Params     models.Params
	ParamsFile string
	Version    string
	Location   string
	TracePath  string
	Env        []string
}

// Args is the argument vector, binary first. Config files are main-level
// options and precede the run subcommand.
func (c Command) Args() []string {
	binary := c.Binary
	if binary == "" {
		binary = "nextflow"
	}
	args := []string{binary}
	for _, cfg := range c.Configs {
		args = append(args, "-c", cfg)
	}
	args = append(args, "run", c.Pipeline)
	if len(c.Profiles) > 0 {
		args = append(args, "-profile", strings.Join(c.Profiles, ","))
	}
	if c.ParamsFile != "" {
		args = append(args, "-params-file", c.ParamsFile)
	}
	args = append(args, c.Params.Args()...)
	if c.TracePath != "" {
		args = append(args, "-with-trace", c.TracePath)
	}
	return args
}

// Environ is added on top of the caller's environment. ANSI progress output
// is turned off so stdout stays line oriented.
func (c Command) Environ() []string {
	env := []string{EnvAnsiLog + "=false"}
	if c.Version != "" {
		env = append(env, EnvVersion+"="+c.Version)
	}
	return append(env, c.Env...)
}
