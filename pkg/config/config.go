// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package config carries the bridge configuration, loaded from yaml via
// viper and overridable through command-line flags.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/viper"
)

// P4FilesConfig locates the compiled pipeline artifacts. The info file
// is either a bmv2 JSON descriptor or a P4Info text proto, selected by
// Format.
type P4FilesConfig struct {
	InfoFile string `yaml:"info_file" mapstructure:"info_file"`
	BinFile  string `yaml:"bin_file" mapstructure:"bin_file"`
	Format   string `yaml:"format"`
}

// Config is the full bridge configuration.
type Config struct {
	CfgFile    string
	Target     string        `yaml:"target"`
	DeviceID   uint64        `yaml:"deviceid"`
	ElectionID uint64        `yaml:"electionid"`
	Database   string        `yaml:"database"`
	DBAddress  string        `yaml:"dbaddress"`
	P4         P4FilesConfig `yaml:"p4"`
	LogLevel   string        `yaml:"loglevel"`
}

var GlobalConfig Config

// LoadConfig reads the config file viper was pointed at and unmarshals
// it over the flag defaults.
func LoadConfig() error {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	if err := viper.Unmarshal(&GlobalConfig); err != nil {
		return err
	}
	return nil
}

// ValidateConfigs rejects configurations the bridge cannot start with.
func ValidateConfigs() error {
	target := viper.GetString("target")
	if _, _, err := net.SplitHostPort(target); err != nil {
		return fmt.Errorf("invalid target format, it should be in address:port format")
	}

	dbtype := viper.GetString("database")
	switch dbtype {
	case "", "gomap":
	case "redis":
		dbAddr := viper.GetString("dbaddress")
		if _, _, err := net.SplitHostPort(dbAddr); err != nil {
			return fmt.Errorf("invalid dbaddress format, it should be in address:port format")
		}
	default:
		return fmt.Errorf("database must be gomap or redis")
	}

	infoFile := viper.GetString("p4.info_file")
	if infoFile == "" {
		return fmt.Errorf("p4 info file must be configured")
	}
	if _, err := os.Stat(infoFile); err != nil {
		return fmt.Errorf("p4 info file: %w", err)
	}

	switch viper.GetString("p4.format") {
	case "", "json", "prototext":
	default:
		return fmt.Errorf("p4 format must be json or prototext")
	}

	return nil
}

func GetConfig() *Config {
	return &GlobalConfig
}
