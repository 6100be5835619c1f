package pipeline

import "time"

// Step names written to the execution log.
const (
	StepInit     = "init"
	StepDownload = "download"
	StepStage    = "stage"
	StepParse    = "parse"
	StepMap      = "map"
	StepLoad     = "load"
	StepFinish   = "finish"
)

// DefaultProfile is the header dictionary used when none is configured.
const DefaultProfile = "dre"

// maxResultErrors bounds Result.Errors.
const maxResultErrors = 50

// notifyTimeout bounds the completion notification.
const notifyTimeout = 30 * time.Second
