// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "go.uber.org/zap"

// nopLogger is shared by every Archive/MutableArchive/Builder that
// isn't given an explicit logger.
var nopLogger = zap.NewNop()

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return nopLogger
	}
	return l
}
