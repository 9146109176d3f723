package config

import (
	"strings"
	"testing"

	"github.com/doipclient/diagclient/errs"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "UdpIpAddress": "0.0.0.0",
  "TcpIpAddress": "0.0.0.0",
  "Conversation": [
    {
      "ConversationName": "tester1",
      "SourceAddress": 1,
      "RxBufferSize": 4096,
      "Network": { "TcpIpAddress": "172.16.25.128", "PortNumber": 13400 },
      "UnknownField": "ignored"
    }
  ]
}`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse(strings.NewReader(sampleJSON))
	require.NoError(t, err)
	require.Len(t, c.Conversations, 1)
	conv := c.Conversations[0]
	require.Equal(t, "tester1", conv.ConversationName)
	require.Equal(t, uint16(1), conv.SourceAddress)
	require.Equal(t, "172.16.25.128", conv.Network.TCPIPAddress)
	require.NotZero(t, conv.P2ClientMax())
	require.NotZero(t, conv.P2StarClientMax())
}

func TestParseRejectsDuplicateNames(t *testing.T) {
	dup := strings.Replace(sampleJSON, `"Conversation": [`, `"Conversation": [{"ConversationName":"tester1","SourceAddress":2},`, 1)
	_, err := Parse(strings.NewReader(dup))
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindConfigMalformed, kind)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindConfigNotFound, kind)
}
