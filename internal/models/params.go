package models

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Param is a single pipeline parameter.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered set of pipeline parameters. Setting an existing key
// replaces its value and keeps its position.
//
// At the process boundary each pair becomes one argument, "--key=value".
// Values are passed verbatim: arguments reach the engine through execve, so
// no shell quoting is applied. Keys must be non-empty and must not contain
// '=' or whitespace.
type Params []Param

// Set assigns value to key.
func (p *Params) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Param{Key: key, Value: value})
}

// Get returns the value for key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Validate rejects keys that cannot be expressed as a --key=value argument.
func (p Params) Validate() error {
	for _, kv := range p {
		if kv.Key == "" {
			return fmt.Errorf("param key must not be empty")
		}
		if strings.ContainsAny(kv.Key, "= \t\n") {
			return fmt.Errorf("param key %q must not contain '=' or whitespace", kv.Key)
		}
	}
	return nil
}

// Args renders the params as engine arguments, in order.
func (p Params) Args() []string {
	args := make([]string, 0, len(p))
	for _, kv := range p {
		args = append(args, "--"+strings.TrimLeft(kv.Key, "-")+"="+kv.Value)
	}
	return args
}

// ParseParam splits "key=value" as given on the command line.
func ParseParam(s string) (Param, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return Param{}, fmt.Errorf("invalid param %q, expected key=value", s)
	}
	return Param{Key: strings.TrimLeft(key, "-"), Value: value}, nil
}

// UnmarshalYAML keeps mapping order, which a plain map would lose.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("params must be a mapping, got line %d", node.Line)
	}
	out := make(Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("param %q must be a scalar (line %d)", k.Value, v.Line)
		}
		out.Set(k.Value, v.Value)
	}
	*p = out
	return nil
}
