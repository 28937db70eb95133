package autoload

import (
	configx "github.com/fitlabs/respond-agent/pkg/config"
	logx "github.com/fitlabs/respond-agent/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
