/*
Package config implements the type to pass the arguments to the node
and implements a function to load the parameters from a configuration file.
*/
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/gitzhang10/mysticeti/sign"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.dedis.ch/kyber/v3/share"
)

const (
	ProtocolMysticeti = "mysticeti"

	ScheduleRoundRobin = "round-robin"
	ScheduleCoin       = "coin"
)

// Config defines a type to describe the configuration.
type Config struct {
	Name                 string
	MaxPool              int
	ClusterAddr          map[string]string // map from name to address
	ClusterPort          map[string]int    // map from name to port
	ClusterAddrWithPorts map[string]uint8  // map from addr:port to index
	PublicKeyMap         map[string]ed25519.PublicKey
	PrivateKey           ed25519.PrivateKey
	TsPublicKey          *share.PubPoly
	TsPrivateKey         *share.PriShare
	LogLevel             int
	IsFaulty             bool
	BatchSize            int
	Round                int
	Protocol             string
	LeaderSchedule       string
	MetricsAddr          string // empty disables the metrics endpoint
	TraceFile            string // empty disables the decision trace
}

// New creates a new variable of type Config for test
func New(name string, maxPool int, clusterAddr map[string]string, clusterPort map[string]int,
	clusterAddrWithPorts map[string]uint8, publicKeyMap map[string]ed25519.PublicKey, privateKey ed25519.PrivateKey,
	tsPublicKey *share.PubPoly, tsPrivateKey *share.PriShare, logLevel int, isFaulty bool, batchSize int, round int,
	leaderSchedule string) *Config {
	return &Config{
		Name:                 name,
		MaxPool:              maxPool,
		ClusterAddr:          clusterAddr,
		ClusterPort:          clusterPort,
		ClusterAddrWithPorts: clusterAddrWithPorts,
		PublicKeyMap:         publicKeyMap,
		PrivateKey:           privateKey,
		TsPublicKey:          tsPublicKey,
		TsPrivateKey:         tsPrivateKey,
		LogLevel:             logLevel,
		IsFaulty:             isFaulty,
		BatchSize:            batchSize,
		Round:                round,
		Protocol:             ProtocolMysticeti,
		LeaderSchedule:       leaderSchedule,
	}
}

// NodeIndex returns the index encoded in a node name such as "node2".
func NodeIndex(name string) (int, error) {
	if !strings.HasPrefix(name, "node") {
		return 0, errors.Errorf("node name %q does not start with \"node\"", name)
	}
	id, err := strconv.Atoi(name[4:])
	if err != nil {
		return 0, errors.Wrapf(err, "node name %q", name)
	}
	return id, nil
}

// LoadConfig loads configuration files by package viper.
// The file is looked up in configPaths, or in the working directory when none is given.
func LoadConfig(configPrefix, configName string, configPaths ...string) (*Config, error) {
	viperConfig := viper.New()

	// for environment variables
	viperConfig.SetEnvPrefix(configPrefix)
	viperConfig.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperConfig.SetEnvKeyReplacer(replacer)
	viperConfig.SetConfigName(configName)
	if len(configPaths) == 0 {
		configPaths = []string{"./"}
	}
	for _, p := range configPaths {
		viperConfig.AddConfigPath(p)
	}
	viperConfig.SetDefault("protocol", ProtocolMysticeti)
	viperConfig.SetDefault("leader_schedule", ScheduleRoundRobin)
	viperConfig.SetDefault("max_pool", 10)
	if err := viperConfig.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	privKeyED, err := hex.DecodeString(viperConfig.GetString("privkeyed"))
	if err != nil {
		return nil, errors.Wrap(err, "decode privkeyed")
	}

	conf := &Config{
		Name:           viperConfig.GetString("name"),
		MaxPool:        viperConfig.GetInt("max_pool"),
		PrivateKey:     privKeyED,
		LogLevel:       viperConfig.GetInt("log_level"),
		IsFaulty:       viperConfig.GetBool("is_faulty"),
		BatchSize:      viperConfig.GetInt("batch_size"),
		Round:          viperConfig.GetInt("round"),
		Protocol:       viperConfig.GetString("protocol"),
		LeaderSchedule: viperConfig.GetString("leader_schedule"),
		MetricsAddr:    viperConfig.GetString("metrics_addr"),
		TraceFile:      viperConfig.GetString("trace_file"),
	}

	// the threshold keys are only needed by the coin schedule
	if tsPubKeyAsString := viperConfig.GetString("tspubkey"); tsPubKeyAsString != "" {
		tsPubKeyAsBytes, err := hex.DecodeString(tsPubKeyAsString)
		if err != nil {
			return nil, errors.Wrap(err, "decode tspubkey")
		}
		if conf.TsPublicKey, err = sign.DecodeTSPublicKey(tsPubKeyAsBytes); err != nil {
			return nil, err
		}
	}
	if tsShareAsString := viperConfig.GetString("tsshare"); tsShareAsString != "" {
		tsShareAsBytes, err := hex.DecodeString(tsShareAsString)
		if err != nil {
			return nil, errors.Wrap(err, "decode tsshare")
		}
		if conf.TsPrivateKey, err = sign.DecodeTSPartialKey(tsShareAsBytes); err != nil {
			return nil, err
		}
	}

	peersP2PPortMapString := viperConfig.GetStringMap("peers_p2p_port")
	peersIPsMapString := viperConfig.GetStringMapString("cluster_ips")
	pubKeyMapString := viperConfig.GetStringMapString("cluster_pubkeyed")
	pubKeyMap := make(map[string]ed25519.PublicKey, len(pubKeyMapString))
	clusterAddr := make(map[string]string, len(pubKeyMapString))
	clusterPort := make(map[string]int, len(pubKeyMapString))
	clusterAddrWithPorts := make(map[string]uint8, len(pubKeyMapString))
	for name, pkAsString := range pubKeyMapString {
		port, err := cast.ToIntE(peersP2PPortMapString[name])
		if err != nil {
			return nil, errors.Wrapf(err, "p2p port of %s", name)
		}
		addr, ok := peersIPsMapString[name]
		if !ok {
			return nil, errors.Errorf("no address for %s", name)
		}
		pubKey, err := hex.DecodeString(pkAsString)
		if err != nil {
			return nil, errors.Wrapf(err, "public key of %s", name)
		}
		id, err := NodeIndex(name)
		if err != nil {
			return nil, err
		}
		pubKeyMap[name] = pubKey
		clusterPort[name] = port
		clusterAddr[name] = addr
		clusterAddrWithPorts[addr+":"+strconv.Itoa(port)] = uint8(id)
	}

	conf.PublicKeyMap = pubKeyMap
	conf.ClusterPort = clusterPort
	conf.ClusterAddr = clusterAddr
	conf.ClusterAddrWithPorts = clusterAddrWithPorts
	return conf, nil
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Protocol != ProtocolMysticeti {
		result = multierror.Append(result, errors.Errorf("unknown protocol %q", c.Protocol))
	}
	if len(c.ClusterAddr) != mysticeti.NumAuthorities {
		result = multierror.Append(result, errors.Errorf("cluster has %d nodes, the commit rule needs %d",
			len(c.ClusterAddr), mysticeti.NumAuthorities))
	}
	if _, ok := c.ClusterAddr[c.Name]; !ok {
		result = multierror.Append(result, errors.Errorf("node %q is not in the cluster", c.Name))
	}
	for name := range c.ClusterAddr {
		id, err := NodeIndex(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if id >= mysticeti.NumAuthorities {
			result = multierror.Append(result, errors.Errorf("node %q is out of range", name))
		}
		if len(c.PublicKeyMap[name]) != ed25519.PublicKeySize {
			result = multierror.Append(result, errors.Errorf("node %q has no valid public key", name))
		}
	}
	if len(c.PrivateKey) != ed25519.PrivateKeySize {
		result = multierror.Append(result, errors.New("private key is not an ED25519 key"))
	}
	switch c.LeaderSchedule {
	case ScheduleRoundRobin:
	case ScheduleCoin:
		if c.TsPublicKey == nil || c.TsPrivateKey == nil {
			result = multierror.Append(result, errors.New("the coin schedule needs threshold keys"))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unknown leader schedule %q", c.LeaderSchedule))
	}
	if c.Round <= 0 {
		result = multierror.Append(result, errors.New("round must be positive"))
	}
	if c.BatchSize < 0 {
		result = multierror.Append(result, errors.New("batch size must not be negative"))
	}
	return result.ErrorOrNil()
}
