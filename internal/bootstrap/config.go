package bootstrap

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/config"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/logger"
)

// CommandDeps holds the configuration and logger every command needs.
type CommandDeps struct {
	Config *config.Config
	Logger logger.Logger
}

// NewCommandDeps loads configuration and creates the logger. debug forces
// debug-level development logging. version fills an unset service version.
func NewCommandDeps(configPath string, debug bool, version string) (*CommandDeps, error) {
	if configPath == "" {
		configPath = config.GetConfigPath(config.DefaultConfigPath)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Service.Version == "" {
		cfg.Service.Version = version
	}
	if debug {
		cfg.Service.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	log = log.With(
		logger.String("service", cfg.Service.Name),
		logger.String("environment", cfg.Service.Environment),
	)

	if cfg.Service.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &CommandDeps{Config: cfg, Logger: log}, nil
}
