/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"log"
	"log/slog"

	"github.com/rotblauer/catfuse/common"
	"github.com/rotblauer/catfuse/daemon/webd"
	"github.com/rotblauer/catfuse/params"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web daemon",
	Long: `Serves per-device tracking sessions over HTTP.

Devices post raw events, one JSON object or an array, to

  POST /devices/{device}/events

and each accepted location fix yields a track point, broadcast on the /socket websocket
and appended to <datadir>/devices/{device}/tracks.ndjson.gz.

  GET /devices/{device}/last    Last known track point, GeoJSON.
  GET /devices/{device}/stats   Live session counters.
  GET /status                   Uptime and live session count.
  GET /ping

Set CATFUSE_TOKEN to require it in the Authorization header (or api_token query param) of event posts.
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		config := params.DefaultWebDaemonConfig()
		config.DataDir = dataDir()
		config.Network = viper.GetString("network")
		config.Address = viper.GetString("address")
		config.MaxSessions = viper.GetInt("max-sessions")
		config.Fusion = fusionConfig()

		server, err := webd.NewWebDaemon(config)
		if err != nil {
			log.Fatalln(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sig := <-common.Interrupted()
			slog.Warn("Received signal, shutting down", "signal", sig)
			cancel()
		}()

		if err := server.Run(ctx); err != nil {
			log.Fatalln(err)
		}
		slog.Info("Au revoir!")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := params.DefaultWebDaemonConfig()

	flags := serveCmd.Flags()
	flags.String("network", defaults.Network, "Network to listen on: tcp, tcp4, tcp6 or unix")
	flags.String("address", defaults.Address, "Address to listen on")
	flags.Int("max-sessions", defaults.MaxSessions, "Live device sessions kept; the least recently used is stopped beyond this")
	mustBindFlags(flags)
}
