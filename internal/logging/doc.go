// Package logging provides structured logging for pqueue.
//
// [Logger] wraps log/slog's JSON handler. Components derive child loggers
// carrying their context, so every line written by the scheduler of queue
// "emails" while running task 42 includes queue=emails and task_id=42:
//
//	logger, err := logging.NewLogger("/var/log/pqueue.log", logging.LevelInfo)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	qlog := logger.WithQueue("emails")
//	qlog.WithTask(42).Info("task started", "attempt", 1)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"task started","queue":"emails","task_id":42,"attempt":1}
//
// Use [NopLogger] in tests and wherever logging is disabled.
package logging
