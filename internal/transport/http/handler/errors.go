package handler

const (
	errInternalServer = "Internal server error"
	errTaskNotFound    = "Task not found"
	errEmptyFilter     = "Filter must match on at least one field"
)
