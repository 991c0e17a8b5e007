package errors

import (
	"github.com/sirupsen/logrus"
)

// Fields returns the structured fields carried by an AppError.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := AsAppError(err)
	if !ok {
		return fields
	}

	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	for k, v := range appErr.Context {
		fields[k] = v
	}
	return fields
}

// WithError attaches err and its structured context to a log entry
func WithError(logger logrus.FieldLogger, err error) *logrus.Entry {
	return logger.WithError(err).WithFields(Fields(err))
}

// LogRetryable logs a retryable error at warn level, non-retryable at error level
func LogRetryable(logger logrus.FieldLogger, err error, message string) {
	entry := WithError(logger, err)
	if IsRetryable(err) {
		entry.Warn(message)
		return
	}
	entry.Error(message)
}
