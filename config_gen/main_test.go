package main

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/gitzhang10/mysticeti/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTemplate(nodes int) *viper.Viper {
	template := viper.New()
	ips := make(map[string]interface{})
	ports := make(map[string]interface{})
	for i := 0; i < nodes; i++ {
		name := fmt.Sprintf("node%d", i)
		ips[name] = "127.0.0.1"
		ports[name] = 9000 + 10*i
	}
	template.Set("IPs", ips)
	template.Set("peers_p2p_port", ports)
	template.Set("max_pool", 10)
	template.Set("batch_size", 5)
	template.Set("log_level", 2)
	template.Set("round", 30)
	template.Set("protocol", config.ProtocolMysticeti)
	template.Set("leader_schedule", config.ScheduleCoin)
	template.Set("faulty_number", 1)
	template.Set("metrics_port", 9400)
	return template
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	faulty, err := generate(newTemplate(4), dir, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, faulty, 1)

	faultyCount := 0
	for i, name := range []string{"node0", "node1", "node2", "node3"} {
		conf, err := config.LoadConfig("", name+"_0", dir)
		require.NoError(t, err)
		require.NoError(t, conf.Validate(), name)
		assert.Equal(t, name, conf.Name)
		assert.Equal(t, i, conf.TsPrivateKey.I)
		assert.Equal(t, 9000+10*i, conf.ClusterPort[name])
		assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", 9400+i), conf.MetricsAddr)
		if conf.IsFaulty {
			faultyCount++
			assert.Equal(t, faulty[0], i)
		}
	}
	assert.Equal(t, 1, faultyCount)
}

func TestGenerateNeedsFourNodes(t *testing.T) {
	_, err := generate(newTemplate(5), t.TempDir(), rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}
