package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"cdpnetwatch/internal/config"
	"cdpnetwatch/internal/logger"
	"cdpnetwatch/internal/storage"
	"cdpnetwatch/pkg/api"
)

var (
	configPath  string
	devtoolsURL string
	logLevel    string
	noRecord    bool
)

// app 命令共享的运行环境
type app struct {
	cfg *config.Config
	log logger.Logger
	db  *gorm.DB
	svc api.Service
}

func (a *app) close() {
	if a.db != nil {
		if err := storage.Close(a.db); err != nil {
			a.log.Err(err, "关闭数据库失败")
		}
	}
}

// setup 读取配置并创建日志器、数据库与服务
func setup(withDB bool) (*app, error) {
	cfg := config.NewConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if devtoolsURL != "" {
		cfg.DevTools.URL = devtoolsURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	l := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    logger.FileOptions{Path: cfg.Log.File},
	})

	a := &app{cfg: cfg, log: l}
	if withDB && !noRecord && cfg.Sqlite.Dsn != "" {
		db, err := storage.Open(storage.Options{DSN: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: l})
		if err != nil {
			return nil, err
		}
		a.db = db
	}
	a.svc = api.NewService(l, a.db)
	return a, nil
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cdpnetwatch",
		Short:         "Watch and intercept browser network traffic over the DevTools protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&devtoolsURL, "devtools", "", "DevTools HTTP endpoint (default from config)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&noRecord, "no-record", false, "do not persist finished requests to sqlite")

	cmd.AddCommand(targetsCmd(), watchCmd(), recordsCmd())
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
