package iftree

import (
	"github.com/goccy/go-yaml"
)

type Config struct {
	// Interfaces lists the interfaces we manage. Links and routes over
	// anything else are ignored unless AllInterfaces is set.
	Interfaces    []string `yaml:"interfaces"`
	AllInterfaces bool     `yaml:"allInterfaces"`

	// SoftDiscard and SoftUnreachable name the interfaces blackhole and
	// unreachable routes are attached to. The first one present wins.
	SoftDiscard     []string `yaml:"softDiscard"`
	SoftUnreachable []string `yaml:"softUnreachable"`
}

var DefaultConfig = Config{
	Interfaces:      []string{},
	AllInterfaces:   true,
	SoftDiscard:     []string{},
	SoftUnreachable: []string{},
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = Config(def)

	return nil
}
