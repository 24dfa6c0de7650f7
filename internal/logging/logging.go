// Package logging centralizes the logrus conventions shared by every
// mediapipe package: one *logrus.Entry per component, tagged with a
// "component" field so log lines can be filtered by subsystem.
package logging

import "github.com/sirupsen/logrus"

// For is a thin constructor so call sites read `logging.For("pipe")`
// instead of repeating the WithField boilerplate.
func For(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
