package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Field helpers shared by the kernel components so log keys stay uniform.

func PID(pid fmt.Stringer) zap.Field   { return zap.Stringer("pid", pid) }
func App(name string) zap.Field        { return zap.String("app", name) }
func Region(label string) zap.Field    { return zap.String("region", label) }
func Slot(slot int) zap.Field          { return zap.Int("slot", slot) }
func Status(st fmt.Stringer) zap.Field { return zap.Stringer("status", st) }
