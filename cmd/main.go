// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2024 OPI Project

// Package main is the main package of the application
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/opiproject/opi-bmv2-bridge/pkg/bmruntime"
	"github.com/opiproject/opi-bmv2-bridge/pkg/codec"
	"github.com/opiproject/opi-bmv2-bridge/pkg/config"
	"github.com/opiproject/opi-bmv2-bridge/pkg/device"
	"github.com/opiproject/opi-bmv2-bridge/pkg/driver"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4info"
	"github.com/opiproject/opi-bmv2-bridge/pkg/p4rt"
	"github.com/opiproject/opi-bmv2-bridge/pkg/storage"
)

var rootCmd = &cobra.Command{
	Use:   "opi-bmv2-bridge",
	Short: "bmv2 table bridge",
	Long:  "bridges the packed table API onto a P4Runtime target and dumps table state",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return config.ValidateConfigs()
	},
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(); err != nil {
			log.Fatal(err)
		}
	},
}

func initialize() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&config.GlobalConfig.CfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.Target, "target", "127.0.0.1:9559", "P4Runtime target in address:port format")
	rootCmd.PersistentFlags().Uint64Var(&config.GlobalConfig.DeviceID, "deviceid", 1, "P4Runtime device id")
	rootCmd.PersistentFlags().Uint64Var(&config.GlobalConfig.ElectionID, "electionid", 1, "election id for mastership arbitration")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.Database, "database", "gomap", "bookkeeping database type, gomap or redis")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.DBAddress, "dbaddress", "127.0.0.1:6379", "db address in ip_address:port format")
	rootCmd.PersistentFlags().StringVar(&config.GlobalConfig.LogLevel, "loglevel", "info", "logrus log level")

	if err := viper.GetViper().BindPFlags(rootCmd.PersistentFlags()); err != nil {
		log.Printf("Error binding flags to Viper: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	if config.GlobalConfig.CfgFile != "" {
		viper.SetConfigFile(config.GlobalConfig.CfgFile)
	} else {
		viper.AddConfigPath("./")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config.yaml")
	}

	if err := config.LoadConfig(); err != nil {
		log.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	initialize()
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func loadPipeline(cfg *config.Config) (*p4info.P4Info, error) {
	switch cfg.P4.Format {
	case "prototext":
		return p4info.LoadProtoText(cfg.P4.InfoFile)
	default:
		return p4info.LoadFile(cfg.P4.InfoFile)
	}
}

func run() error {
	cfg := config.GetConfig()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	info, err := loadPipeline(cfg)
	if err != nil {
		return fmt.Errorf("loading pipeline description: %w", err)
	}

	store, err := storage.NewStore(cfg.Database, cfg.DBAddress)
	if err != nil {
		return fmt.Errorf("opening bookkeeping store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnf("closing store: %v", err)
		}
	}()
	devices := device.NewStore(store)

	ctx := context.Background()

	conn, err := grpc.NewClient(cfg.Target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Target, err)
	}
	defer func() { _ = conn.Close() }()

	client, err := p4rt.New(ctx, conn, info, cfg.DeviceID, cfg.ElectionID)
	if err != nil {
		return err
	}

	if cfg.P4.BinFile != "" && cfg.P4.Format == "prototext" {
		log.Infof("setting forwarding pipe from %s", cfg.P4.BinFile)
		if err := client.SetFwdPipe(ctx, cfg.P4.BinFile, cfg.P4.InfoFile); err != nil {
			return fmt.Errorf("setting forwarding pipe: %w", err)
		}
	}

	if err := devices.Assign(cfg.DeviceID, cfg.P4.InfoFile); err != nil {
		return fmt.Errorf("assigning device %d: %w", cfg.DeviceID, err)
	}

	drv := driver.New(info, devices)
	drv.RegisterClient(cfg.DeviceID, client)

	return dumpTables(ctx, drv, info, cfg.DeviceID)
}

// dumpTables fetches every table and logs the packed entries back in
// structured form, releasing each fetch buffer when done with it.
func dumpTables(ctx context.Context, drv *driver.Driver, info *p4info.P4Info, deviceID uint64) error {
	for _, table := range info.Tables() {
		res, err := drv.FetchEntries(ctx, deviceID, table.ID)
		if err != nil {
			log.Warnf("fetching table %s: %v", table.Name, err)
			continue
		}

		log.Infof("table %s: %d entries, match key width %d, buffer %d bytes",
			table.Name, res.NumEntries, res.MatchKeyNBytes, len(res.Entries))

		entries, err := codec.ParseEntries(info, table.ID, res.Entries)
		if err != nil {
			res.Release()
			return err
		}
		for _, e := range entries {
			logEntry(table.Name, e)
		}
		res.Release()
	}
	return nil
}

func logEntry(table string, e bmruntime.MtEntry) {
	fields := log.Fields{
		"table":  table,
		"handle": e.Handle,
		"action": e.Action.Name,
	}
	if e.Options.Priority != nil {
		fields["priority"] = *e.Options.Priority
	}
	for i, p := range e.Action.Data {
		fields[fmt.Sprintf("param%d", i)] = hex.EncodeToString(p)
	}
	log.WithFields(fields).Info("table entry")
}
