// Package autoload configures the global logger from LOG_* variables on import.
package autoload

import (
	configx "github.com/Champsson/Kooler-Agent/pkg/config"
	logx "github.com/Champsson/Kooler-Agent/pkg/logger"
)

func init() {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		logx.Init()
		return
	}
	logx.Init(*conf)
}
