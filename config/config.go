// Package config loads the JSON configuration file described in spec §6
// into a structured, immutable-after-load Config record. It is the
// external collaborator the core engine consumes at its interface only
// (spec §1 "Out of scope"): config.Load returns a value, the engine never
// re-reads the file.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/doipclient/diagclient/doip"
	"github.com/doipclient/diagclient/errs"
)

// Network describes the TCP endpoint of one conversation's target.
type Network struct {
	TCPIPAddress string `json:"TcpIpAddress"`
	PortNumber   uint16 `json:"PortNumber"`
}

// ConversationConfig is one entry of the "Conversation" array in the JSON
// file, corresponding to spec §3's conversation descriptor tuple
// (name, source_address, rx_buffer_size, network, routing_activation_type).
type ConversationConfig struct {
	ConversationName string  `json:"ConversationName"`
	SourceAddress    uint16  `json:"SourceAddress"`
	RxBufferSize     uint32  `json:"RxBufferSize"`
	P2ClientMaxMs    int64   `json:"P2ClientMax"`
	P2StarClientMaxMs int64  `json:"P2StarClientMax"`
	Network          Network `json:"Network"`
	// RoutingActivationType defaults to 0x00 (default activation) when
	// absent; the JSON shape in spec §6 does not name this field
	// explicitly, so it is read with a conservative default.
	RoutingActivationType uint8 `json:"RoutingActivationType"`
}

// P2ClientMax is the response timeout override for this conversation, or
// the engine default when unset.
func (c ConversationConfig) P2ClientMax() time.Duration {
	if c.P2ClientMaxMs <= 0 {
		return doip.DefaultResponseTimeout
	}
	return time.Duration(c.P2ClientMaxMs) * time.Millisecond
}

// P2StarClientMax is the response-pending extension override, or the
// engine default when unset.
func (c ConversationConfig) P2StarClientMax() time.Duration {
	if c.P2StarClientMaxMs <= 0 {
		return doip.DefaultResponsePendingTimeout
	}
	return time.Duration(c.P2StarClientMaxMs) * time.Millisecond
}

// Config is the top-level JSON-decoded record, immutable once Load
// returns (spec §3 "Config record").
type Config struct {
	UDPIPAddress  string               `json:"UdpIpAddress"`
	TCPIPAddress  string               `json:"TcpIpAddress"`
	Conversations []ConversationConfig `json:"Conversation"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindConfigNotFound, err)
		}
		return nil, errs.Wrap(errs.KindConfigMalformed, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a Config from r (an io.Reader, typically an open file).
// Unknown fields are ignored, per spec §6.
func Parse(r io.Reader) (*Config, error) {
	var c Config
	dec := json.NewDecoder(r)
	if err := dec.Decode(&c); err != nil {
		return nil, errs.Wrap(errs.KindConfigMalformed, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Conversations))
	for _, conv := range c.Conversations {
		if conv.ConversationName == "" {
			return errs.Wrap(errs.KindConfigMalformed, fmt.Errorf("conversation with empty name"))
		}
		if _, dup := seen[conv.ConversationName]; dup {
			return errs.Wrap(errs.KindConfigMalformed, fmt.Errorf("duplicate conversation name %q", conv.ConversationName))
		}
		seen[conv.ConversationName] = struct{}{}
	}
	return nil
}
