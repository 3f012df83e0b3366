package telemetry

import "codeberg.org/mutker/ipmifanctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")

	// Transport Errors
	ErrConnect = errors.ErrorCode("telemetry_connect_failed")
	ErrPublish = errors.ErrorCode("telemetry_publish_failed")
	ErrEncode  = errors.ErrorCode("telemetry_encode_failed")

	// Export Errors
	ErrWriteTextfile = errors.ErrorCode("telemetry_write_textfile_failed")
)
