package fea

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/greearb/xorp.ct-sub013/internal/nlsock"
	"github.com/greearb/xorp.ct-sub013/types"
)

type Config struct {
	Log bool `yaml:"log"`

	// Netlink configures the notification socket. The request socket
	// shares everything but the multicast groups.
	Netlink nlsock.Config `yaml:"netlink"`

	// Families lists the address families dumped on start.
	Families []string `yaml:"families"`

	// SyncOnStart dumps links, addresses and routes into the tree right
	// after the sockets come up.
	SyncOnStart bool `yaml:"syncOnStart"`

	// EventBuffer is the capacity of every event channel handed to a
	// backend. Events for a full channel are dropped.
	EventBuffer int `yaml:"eventBuffer"`
}

var DefaultConfig = Config{
	Log:         true,
	Netlink:     nlsock.DefaultConfig,
	Families:    []string{"ipv4", "ipv6"},
	SyncOnStart: true,
	EventBuffer: 1000,
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

func (c Config) families() ([]types.Family, error) {
	fams := make([]types.Family, 0, len(c.Families))
	for _, f := range c.Families {
		fam, ok := types.ParseFamily(f)
		if !ok {
			return nil, fmt.Errorf("unknown address family %q", f)
		}
		fams = append(fams, fam)
	}
	return fams, nil
}
