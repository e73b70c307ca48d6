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

// Command vsyncer syncs collections from a REST API, watches them across
// connectivity changes, and can serve a mock API for development.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vogo/vogo/vlog"
)

var rootCmd = &cobra.Command{
	Use:          "vsyncer",
	Short:        "Client-side collection sync and caching",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return readConfigFile(viper.GetViper())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("base-url", "http://localhost:8081/api", "base url of the collections api")
	flags.Duration("ttl", defaultConfig().Sync.DefaultTTL, "how long a fetched collection stays fresh")
	flags.Duration("refresh-interval", defaultConfig().Sync.RefreshInterval, "period of the background refresh")
	flags.Duration("timeout", defaultConfig().Timeout, "http request timeout")
	flags.Float64("rate-limit", 0, "max requests per second, 0 for unlimited")
	flags.Int("flush-retries", 0, "extra attempts for queued writes failing with network errors")

	rootCmd.AddCommand(fetchCmd, watchCmd, mockServerCmd)

	bindFlags(viper.GetViper(), flags)
	for _, cmd := range rootCmd.Commands() {
		bindFlags(viper.GetViper(), cmd.Flags())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		vlog.Errorf("vsyncer | err: %v", err)
		os.Exit(1)
	}
}
