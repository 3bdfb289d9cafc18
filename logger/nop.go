// Package logger provides core.Logger implementations that are not tied
// to a specific logging backend.
package logger

import (
	"github.com/dashwire/dashwire/core"
)

// Nop is a core.Logger that discards everything. Useful in tests and as a
// default for optional components.
type Nop struct{}

// NewNop returns a discarding logger.
func NewNop() core.Logger { return Nop{} }

func (Nop) WithField(string, any) core.Logger     { return Nop{} }
func (Nop) WithFields(map[string]any) core.Logger { return Nop{} }
func (Nop) WithError(error) core.Logger           { return Nop{} }

func (Nop) Trace(...any) {}
func (Nop) Debug(...any) {}
func (Nop) Info(...any)  {}
func (Nop) Warn(...any)  {}
func (Nop) Error(...any) {}
func (Nop) Fatal(...any) {}

func (Nop) Tracef(string, ...any) {}
func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}
func (Nop) Fatalf(string, ...any) {}

func (Nop) SetLevel(core.Level)  {}
func (Nop) GetLevel() core.Level { return core.Disabled }
