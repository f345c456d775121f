package services

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrJobAlreadyRunning = errors.New("job is already running")

	// ErrQuotaExhausted means the translation upstream refuses further work
	// until the account is topped up. It is fatal to the job, never retried.
	ErrQuotaExhausted = errors.New("translation quota exhausted")

	ErrResourceNotFound = errors.New("remote resource not found")
)

// QuotaExhaustedMessage is what an operator sees on a job stopped by ErrQuotaExhausted.
const QuotaExhaustedMessage = "translation quota exhausted: top up the provider account and resume the job"
