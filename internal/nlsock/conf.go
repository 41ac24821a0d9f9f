package nlsock

import (
	"github.com/goccy/go-yaml"
	"golang.org/x/sys/unix"
)

type Config struct {
	// Groups is the multicast group mask the socket joins when bound.
	Groups uint32 `yaml:"groups"`

	// ReceiveBufferSize is what we ask SO_RCVBUF(FORCE) for. Route dumps on
	// busy routers easily overflow the default.
	ReceiveBufferSize int `yaml:"receiveBufferSize"`

	// TableID scopes route messages to a single kernel table. 0 disables
	// the filter.
	TableID uint32 `yaml:"tableID"`

	// MultipartRead works around kernels that forget NLM_F_MULTI on
	// dump replies: reassembly then only ends on NLMSG_DONE.
	MultipartRead bool `yaml:"multipartRead"`

	// Retries bounds how many times a Reader goes back to an empty socket
	// before giving up on a reply, waiting between BackoffMinMs and
	// BackoffMaxMs milliseconds.
	Retries      int `yaml:"retries"`
	BackoffMinMs int `yaml:"backoffMinMs"`
	BackoffMaxMs int `yaml:"backoffMaxMs"`

	Log bool `yaml:"log"`
}

var DefaultConfig = Config{
	Groups: unix.RTMGRP_LINK |
		unix.RTMGRP_NOTIFY |
		unix.RTMGRP_IPV4_IFADDR |
		unix.RTMGRP_IPV4_ROUTE |
		unix.RTMGRP_IPV6_IFADDR |
		unix.RTMGRP_IPV6_ROUTE,
	ReceiveBufferSize: 4 * 1024 * 1024,
	Retries:           5,
	BackoffMinMs:      1,
	BackoffMaxMs:      50,
	Log:               true,
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
