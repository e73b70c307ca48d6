/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"
	"github.com/vogo/vsyncer"
	"github.com/vogo/vsyncer/examples/mockapi"
	"github.com/vogo/vsyncer/httptransport"
	"github.com/vogo/vsyncer/vclock"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <collection>...",
	Short: "Sync collections once and print them as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		syncer, err := newSyncer(cfg)
		if err != nil {
			return err
		}
		defer syncer.Close()

		result, err := fetchAll(cmd.Context(), syncer, args)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <collection>...",
	Short: "Keep collections synced and log sync events",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		syncer, err := newSyncer(cfg)
		if err != nil {
			return err
		}
		defer syncer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		syncer.SubscribeAll(func(e vsyncer.SyncEvent) {
			if e.Err != nil {
				vlog.Warnf("vsyncer event | kind: %s | collection: %s | record: %s | err: %v", e.Kind, e.Collection, e.RecordID, e.Err)
				return
			}
			vlog.Infof("vsyncer event | kind: %s | collection: %s | record: %s | online: %v", e.Kind, e.Collection, e.RecordID, e.Online)
		})

		probe := httptransport.NewProbe(cfg.HealthURL, cfg.ProbeInterval, vclock.NewTicker())
		probe.Check(ctx)

		runner := vrun.New()
		defer runner.Stop()
		syncer.Watch(runner, probe)

		if _, err := fetchAll(ctx, syncer, args); err != nil {
			vlog.Warnf("vsyncer initial sync | err: %v", err)
		}

		// Reading every refresh interval keeps the collections in the sweep.
		interval := cfg.Sync.RefreshInterval
		if interval <= 0 {
			interval = defaultConfig().Sync.RefreshInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				vlog.Infof("vsyncer watch stopped | status: %+v", syncer.NetworkStatus())
				return nil
			case <-ticker.C:
				if _, err := fetchAll(ctx, syncer, args); err != nil {
					vlog.Warnf("vsyncer sync | err: %v", err)
				}
			}
		}
	},
}

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve in-memory collections for development",
	RunE: func(cmd *cobra.Command, _ []string) error {
		server := mockapi.New()
		server.Seed("animals",
			vsyncer.Record{"id": "a1", "name": "cat"},
			vsyncer.Record{"id": "a2", "name": "dog"},
		)
		server.Seed("events", vsyncer.Record{"id": "e1", "title": "feeding"})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(viper.GetString("addr"))
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	watchCmd.Flags().String("health-url", "", "health endpoint polled for connectivity (default derived from base-url)")
	watchCmd.Flags().Duration("probe-interval", defaultConfig().ProbeInterval, "connectivity probe period")
	mockServerCmd.Flags().String("addr", ":8081", "listen address")
}

func newSyncer(cfg config) (*vsyncer.Syncer, error) {
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}
	return vsyncer.New(transport, vsyncer.WithConfig(cfg.Sync), vsyncer.WithName("vsyncer-cli"))
}

func fetchAll(ctx context.Context, syncer *vsyncer.Syncer, collections []string) (map[string][]vsyncer.Record, error) {
	result := make(map[string][]vsyncer.Record, len(collections))
	for _, collection := range collections {
		records, err := syncer.SyncCollection(ctx, collection)
		if err != nil {
			return result, errors.Wrapf(err, "sync %s", collection)
		}
		result[collection] = records
	}
	return result, nil
}
