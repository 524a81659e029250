/*
Package main in the directory config_gen implements a tool to read configuration from a template,
and generate customized configuration files for each node.
The generated configuration file particularly contains the public/private keys for TS and ED25519.
*/
package main

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gitzhang10/mysticeti/config"
	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/gitzhang10/mysticeti/sign"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

func judgeWhetherInSlice(i int, b []int) bool {
	for _, v := range b {
		if i == v {
			return true
		}
	}
	return false
}

func generateRandomNumber(nodeNum int, faultyNum int, r *rand.Rand) []int {
	var nums []int
	for len(nums) < faultyNum {
		num := r.Intn(nodeNum)
		// discard duplicates
		if !judgeWhetherInSlice(num, nums) {
			nums = append(nums, num)
		}
	}
	return nums
}

// generate writes one "<name>_0.yaml" file per node of the template into outDir and
// returns the indices of the nodes marked faulty.
func generate(template *viper.Viper, outDir string, r *rand.Rand) ([]int, error) {
	clusterIPs := template.GetStringMapString("IPs")
	p2pPorts := template.GetStringMap("peers_p2p_port")
	if len(clusterIPs) != mysticeti.NumAuthorities {
		return nil, errors.Errorf("the template lists %d nodes, the commit rule needs %d", len(clusterIPs), mysticeti.NumAuthorities)
	}
	clusterName := make([]string, 0, len(clusterIPs))
	ports := make(map[string]int, len(clusterIPs))
	for name := range clusterIPs {
		if _, err := config.NodeIndex(name); err != nil {
			return nil, err
		}
		port, err := cast.ToIntE(p2pPorts[name])
		if err != nil {
			return nil, errors.Wrapf(err, "p2p_listen_port of %s", name)
		}
		ports[name] = port
		clusterName = append(clusterName, name)
	}
	sort.Strings(clusterName)

	// create the ED25519 keys
	privKeysED25519 := make(map[string]string)
	pubKeysED25519 := make(map[string]string)
	for _, name := range clusterName {
		privKeyED, pubKeyED := sign.GenED25519Keys()
		pubKeysED25519[name] = hex.EncodeToString(pubKeyED)
		privKeysED25519[name] = hex.EncodeToString(privKeyED)
	}

	// create the threshold signature keys
	nodeNumber := len(clusterName)
	shares, pubPoly := sign.GenTSKeys(mysticeti.QuorumSize, nodeNumber)
	tsPubKeyAsBytes, err := sign.EncodeTSPublicKey(pubPoly)
	if err != nil {
		return nil, errors.Wrap(err, "encode the TSPublicKey")
	}

	faultyNode := generateRandomNumber(nodeNumber, template.GetInt("faulty_number"), r)

	// write to configure files
	for _, name := range clusterName {
		replicaID, _ := config.NodeIndex(name)
		shareAsBytes, err := sign.EncodeTSPartialKey(shares[replicaID])
		if err != nil {
			return nil, errors.Wrap(err, "encode the share")
		}

		viperWrite := viper.New()
		viperWrite.SetConfigFile(filepath.Join(outDir, fmt.Sprintf("%s_0.yaml", name)))
		viperWrite.Set("name", name)
		viperWrite.Set("peers_p2p_port", ports)
		viperWrite.Set("max_pool", template.GetInt("max_pool"))
		viperWrite.Set("batch_size", template.GetInt("batch_size"))
		viperWrite.Set("PrivKeyED", privKeysED25519[name])
		viperWrite.Set("cluster_pubkeyed", pubKeysED25519)
		viperWrite.Set("TSShare", hex.EncodeToString(shareAsBytes))
		viperWrite.Set("TSPubKey", hex.EncodeToString(tsPubKeyAsBytes))
		viperWrite.Set("log_level", template.GetInt("log_level"))
		viperWrite.Set("cluster_ips", clusterIPs)
		viperWrite.Set("round", template.GetInt("round"))
		viperWrite.Set("protocol", template.GetString("protocol"))
		viperWrite.Set("leader_schedule", template.GetString("leader_schedule"))
		viperWrite.Set("trace_file", template.GetString("trace_file"))
		if metricsPort := template.GetInt("metrics_port"); metricsPort > 0 {
			viperWrite.Set("metrics_addr", clusterIPs[name]+":"+strconv.Itoa(metricsPort+replicaID))
		}
		viperWrite.Set("is_faulty", judgeWhetherInSlice(replicaID, faultyNode))
		if err := viperWrite.WriteConfig(); err != nil {
			return nil, errors.Wrapf(err, "write config of %s", name)
		}
	}
	return faultyNode, nil
}

func main() {
	viperRead := viper.New()
	// for environment variables
	viperRead.SetEnvPrefix("")
	viperRead.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperRead.SetEnvKeyReplacer(replacer)
	viperRead.SetConfigName("config_template")
	viperRead.AddConfigPath("./")
	viperRead.SetDefault("protocol", config.ProtocolMysticeti)
	viperRead.SetDefault("leader_schedule", config.ScheduleRoundRobin)
	err := viperRead.ReadInConfig()
	if err != nil {
		panic(err)
	}

	faultyNode, err := generate(viperRead, "./", rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		panic(err)
	}
	fmt.Println("FaultyNodes:", faultyNode)
}
