// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package snapshot

import (
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
)

// badgerLogger routes badger's printf-style logging into logr.
type badgerLogger struct {
	logger logr.Logger
}

var _ badger.Logger = badgerLogger{}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(nil, trim(format, args))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Info(trim(format, args), "severity", "warning")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.V(1).Info(trim(format, args))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.V(2).Info(trim(format, args))
}

func trim(format string, args []any) string {
	return strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
}
