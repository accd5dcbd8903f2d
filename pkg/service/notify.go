package service

// NotificationOptions carries delivery hints for a notification.
type NotificationOptions struct {
	Priority string
	Channels []string
}

// NotificationSink is the delivery boundary. The engine only decides
// whether and with what variables to notify; delivery lives elsewhere.
type NotificationSink interface {
	SendNotification(userID, eventType string, variables map[string]interface{}, opts NotificationOptions) error
}

// LogSink writes notifications to the log. It is the default sink and
// doubles as the test double.
type LogSink struct {
	logger Logger
}

func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SendNotification(userID, eventType string, variables map[string]interface{}, opts NotificationOptions) error {
	s.logger.Infof("Notification %s for user %s (priority=%s channels=%v): %v",
		eventType, userID, opts.Priority, opts.Channels, variables)
	return nil
}
