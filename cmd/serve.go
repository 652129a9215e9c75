package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/novi-app/attention/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the telemetry server that collects participant reports",
	Annotations: map[string]string{annotationDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		fromConfig(cmd, "addr", &serveAddr, Cfg.HTTPAddr)

		if Log.GetLevel() < logrus.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := server.New(DB, Log)
		return srv.Run(cmd.Context(), serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8080", "Listen address (ATTENTION_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
