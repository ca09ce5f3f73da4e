/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package serve

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func newLogger(disableTimestamp bool, logLevel string, logFile string) (logrus.FieldLogger, error) {
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{
		DisableTimestamp: disableTimestamp,
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("unknown log level: %v", logLevel)
	}
	logger.SetLevel(level)

	if logFile != "" {
		f, openErr := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open log file: %w", openErr)
		}
		logger.SetOutput(f)
	}

	return logger, nil
}
