package notifications

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcompilerr/intelli-qa-sub001/internal/store"
)

const defaultDeliveryTimeout = 30 * time.Second

// Dispatcher turns terminal run records into notification sends. Delivery
// runs in the background on a detached context so a slow webhook cannot
// stall the worker that finished the run.
type Dispatcher struct {
	service    *Service
	runURLBase string
	timeout    time.Duration
	wg         sync.WaitGroup
}

// NewDispatcher creates a dispatcher delivering through the given service.
// runURLBase is the base URL run links are built from; empty omits links.
func NewDispatcher(service *Service, runURLBase string) *Dispatcher {
	return &Dispatcher{
		service:    service,
		runURLBase: strings.TrimRight(runURLBase, "/"),
		timeout:    defaultDeliveryTimeout,
	}
}

// RunFinished fans a terminal run out to the configured channels. Cancelled
// runs are not announced; the cancellation was operator-initiated.
func (d *Dispatcher) RunFinished(ctx context.Context, record *store.TestRunRecord, recovery *store.RecoveryEventRecord) {
	if record == nil || record.Status == store.RunStatusCancelled {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.deliver(sendCtx, record, recovery)
	}()
}

// Wait blocks until all in-flight deliveries have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, record *store.TestRunRecord, recovery *store.RecoveryEventRecord) {
	steps := StepTally{
		Total:   record.TotalSteps,
		Passed:  record.SuccessfulSteps,
		Failed:  record.FailedSteps,
		Skipped: record.SkippedSteps,
	}
	runURL := d.runURL(record.ID)
	duration := time.Duration(record.DurationMS) * time.Millisecond

	switch record.Status {
	case store.RunStatusFailed:
		notification := RunFailedNotification{
			RunID:             record.ID,
			TestID:            record.TestID,
			Name:              record.Name,
			Environment:       record.Environment,
			FailureReason:     record.FailureReason,
			Duration:          duration,
			Steps:             steps,
			RecoveryApplied:   record.RecoveryApplied,
			RollbackPerformed: record.RollbackPerformed,
			RunURL:            runURL,
		}
		if recovery != nil {
			notification.FailureType = recovery.FailureType
			notification.Severity = recovery.FailureSeverity
		}
		d.service.SendRunFailed(ctx, notification)

	case store.RunStatusPassed, store.RunStatusPartialSuccess:
		d.service.SendRunCompleted(ctx, RunCompletedNotification{
			RunID:       record.ID,
			TestID:      record.TestID,
			Name:        record.Name,
			Environment: record.Environment,
			Status:      record.Status,
			Duration:    duration,
			Steps:       steps,
			RunURL:      runURL,
		})
	}

	// A recovery event only escalates when it changed system posture
	if recovery != nil && (recovery.DegradationApplied || recovery.RollbackPerformed) {
		d.service.SendRecoveryEscalated(ctx, RecoveryEscalatedNotification{
			RunID:             record.ID,
			TestID:            record.TestID,
			Environment:       record.Environment,
			FailureType:       recovery.FailureType,
			Severity:          recovery.FailureSeverity,
			DegradationLevel:  recovery.DegradationLevel,
			RollbackPerformed: recovery.RollbackPerformed,
			RollbackSucceeded: recovery.RollbackSucceeded,
			RunURL:            runURL,
		})
	}
}

func (d *Dispatcher) runURL(runID uuid.UUID) string {
	if d.runURLBase == "" {
		return ""
	}
	return d.runURLBase + "/" + runID.String()
}
