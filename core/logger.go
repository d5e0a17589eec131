package core

// Logger is implemented by any logging backend the app reports to.
// args may hold errors, extra data (map[string]interface{}) and the logged-in user.User.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// DiscardLogger drops every message. Used when no logger is configured.
type DiscardLogger struct{}

var _ Logger = DiscardLogger{}

func (DiscardLogger) Debug(string, ...interface{}) {}
func (DiscardLogger) Info(string, ...interface{})  {}
func (DiscardLogger) Warn(string, ...interface{})  {}
func (DiscardLogger) Error(string, ...interface{}) {}
func (DiscardLogger) Fatal(string, ...interface{}) {}
