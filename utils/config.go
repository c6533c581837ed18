package utils

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Apillon/blockchain-service/config"
	"github.com/Apillon/blockchain-service/types"
)

// Config is the globally accessible configuration
var Config *types.Config

// ReadConfig will process a configuration
func ReadConfig(cfg *types.Config, path string) error {
	err := readConfigFile(cfg, path)
	if err != nil {
		return err
	}

	// fill unset fields from the embedded defaults
	defaults := &types.Config{}
	err = yaml.Unmarshal([]byte(config.DefaultConfigYml), defaults)
	if err != nil {
		return fmt.Errorf("error decoding embedded default config: %v", err)
	}
	err = mergo.Merge(cfg, defaults)
	if err != nil {
		return fmt.Errorf("error merging default config: %v", err)
	}

	readConfigEnv(cfg)

	if cfg.Database.Engine != "sqlite" && cfg.Database.Engine != "pgsql" {
		return fmt.Errorf("unknown database engine: %v", cfg.Database.Engine)
	}
	if cfg.Webhooks.Enabled && cfg.Webhooks.DefaultUrl == "" && len(cfg.Webhooks.Consumers) == 0 {
		return fmt.Errorf("webhooks enabled but no consumer configured (need webhooks.defaultUrl or webhooks.consumers)")
	}

	log.WithFields(log.Fields{
		"dbEngine":       cfg.Database.Engine,
		"stallThreshold": cfg.NonceMonitor.StallThreshold,
		"webhookBatch":   cfg.Webhooks.BatchSize,
	}).Infof("did init config")

	return nil
}

func readConfigFile(cfg *types.Config, path string) error {
	if path == "" {
		return yaml.Unmarshal([]byte(config.DefaultConfigYml), cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %v", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(cfg)
	if err != nil {
		return fmt.Errorf("error decoding config file %v: %v", path, err)
	}

	return nil
}

func readConfigEnv(cfg *types.Config) error {
	return envconfig.Process("", cfg)
}
