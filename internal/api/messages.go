package api

// Shared message constants.
const (
	msgInvalidRequestBody = "invalid request body"
	msgNoActiveRun        = "no run for workflow"
)
