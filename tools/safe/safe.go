package safe

import (
	"github.com/SpheneDev/SpheneServer/logger"
)

// Go starts a goroutine that recovers from panic, so a failing
// background task cannot take the whole process down.
func Go(name string, f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] %s panic recovered: %v", name, r)
			}
		}()
		f()
	}()
}

// Run invokes f inline with panic recovery. Used by periodic sweeps so
// one bad tick never stops the loop.
func Run(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe.Run] %s panic recovered: %v", name, r)
		}
	}()
	f()
}
