package refseq

import "log"

// Logger is the minimal logging surface the cache needs. Disk-cache
// population failures are reported here rather than returned, since a
// missing local cache never invalidates the sequence already in hand.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// DefaultLogger writes through the standard library logger.
type DefaultLogger struct{}

func (DefaultLogger) Infof(format string, args ...any) {
	log.Printf(format, args...)
}

func (DefaultLogger) Errorf(format string, args ...any) {
	log.Printf(format, args...)
}
