package main

import (
	"github.com/septivank/medimind-backend/internal/config"
	"github.com/septivank/medimind-backend/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
