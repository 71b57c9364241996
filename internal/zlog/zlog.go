// Package zlog is the zone server's logging wrapper. It keeps the
// teacher's banner/section startup ceremony but backs every level method
// with a structured logrus logger instead of colored log.Printf calls.
package zlog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the minimum level for the default logger.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Kind used for the malicious/lifecycle-violation tagging called out in §7.
const (
	KindMalicious          = "malicious"
	KindLifecycleViolation = "lifecycle-violation"
	KindOverload           = "connection-overload"
)

// Fields is a thin alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

// For returns an entry pre-tagged with a connection's identity, used by the
// transport's per-connection log lines.
func For(playerID int, addr string) *logrus.Entry {
	return base.WithFields(logrus.Fields{"player_id": playerID, "addr": addr})
}

func Debugf(format string, args ...interface{}) { base.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Errorf(format, args...) }

// Malicious logs a dropped-datagram condition at warn level tagged "kind=malicious",
// per §7's error-kind taxonomy: logged, datagram dropped, no state change.
func Malicious(format string, args ...interface{}) {
	base.WithField("kind", KindMalicious).Warnf(format, args...)
}

// LifecycleViolation logs a packet-in-wrong-state condition (§7).
func LifecycleViolation(format string, args ...interface{}) {
	base.WithField("kind", KindLifecycleViolation).Warnf(format, args...)
}

// Fatalf logs at error level and terminates the process, mirroring the
// teacher's logger.Fatal.
func Fatalf(format string, args ...interface{}) {
	base.Errorf(format, args...)
	os.Exit(1)
}

// Banner prints the startup banner the teacher's pkg/logger prints, kept
// verbatim in spirit (plain fmt.Println, not logrus — this is a one-shot
// process-start announcement, not a log line that needs levels or fields).
func Banner(title, version string) {
	fmt.Printf("\n=== %s (v%s) ===\n\n", title, version)
}

// Section prints a section header, used to delimit startup phases
// (config load, listener bind, broker init) the way the teacher's
// logger.Section did.
func Section(title string) {
	fmt.Printf("\n--- %s ---\n", title)
}
