package main

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/greearb/xorp.ct-sub013/backends/prometheus"
	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/greearb/xorp.ct-sub013/plugins/api"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var rawSchema []byte

var confSchema = mustCompileSchema()

type Config struct {
	PidPath   string `yaml:"pidPath"`
	SysfsPath string `yaml:"sysfsPath"`

	Fea  fea.Config    `yaml:"fea"`
	Tree iftree.Config `yaml:"tree"`

	Plugins *struct {
		Api *api.Config `yaml:"api"`
	} `yaml:"plugins"`

	Backends *struct {
		Prometheus *prometheus.Config `yaml:"prometheus"`
	} `yaml:"backends"`
}

func (c Config) String() string {
	m, err := yaml.MarshalWithOptions(c, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "marshalling error..."
	}
	return string(m)
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := &config{
		PidPath:   "/var/run/xorp-fea.pid",
		SysfsPath: "/sys",
		Fea:       fea.DefaultConfig,
		Tree:      iftree.DefaultConfig,
	}

	if err := yaml.Unmarshal(b, def); err != nil {
		return err
	}

	*c = Config(*def)

	return nil
}

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawSchema))
	if err != nil {
		panic(fmt.Sprintf("the embedded schema is broken: %v", err))
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		panic(fmt.Sprintf("couldn't add the embedded schema: %v", err))
	}

	sch, err := c.Compile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("couldn't compile the embedded schema: %v", err))
	}

	return sch
}

// validateConf checks the raw YAML against the schema so that typos in key
// names don't silently fall back to the defaults.
func validateConf(raw []byte) error {
	j, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return fmt.Errorf("couldn't convert the configuration to JSON: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(j))
	if err != nil {
		return fmt.Errorf("couldn't unmarshal the configuration: %w", err)
	}

	return confSchema.Validate(inst)
}

func ReadConf(path string) (*Config, error) {
	r, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the configuration file: %w", err)
	}

	return ParseConf(r)
}

func ParseConf(r []byte) (*Config, error) {
	// An empty document still gets the defaults.
	if len(bytes.TrimSpace(r)) == 0 {
		r = []byte("{}")
	}

	if err := validateConf(r); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	conf := Config{}
	if err := yaml.Unmarshal(r, &conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling the configuration: %w", err)
	}

	return &conf, nil
}
