package env

import (
	"github.com/thatsimonsguy/trv-controller/internal/config"
)

var Cfg *config.Config
