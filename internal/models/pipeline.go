package models

// Pipeline is a workflow script on the local filesystem plus everything
// needed to launch it.
type Pipeline struct {
	Name       string   `yaml:"name"`
	Path       string   `yaml:"path"`
	Configs    []string `yaml:"configs"`
	Profiles   []string `yaml:"profiles"`
	Params     Params   `yaml:"params"`
	ParamsFile string   `yaml:"params_file"`
	Version    string   `yaml:"version"`
	Schema     string   `yaml:"schema"`
	Location   string   `yaml:"location"`
}
