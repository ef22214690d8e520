package control

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
)

// fatalReport carries a worker panic's error plus the caller-site
// file/function/line to the fatal supervisor goroutine, since the
// supervisor — not the panicking worker's own goroutine — is the one that
// ends up logging and exiting.
type fatalReport struct {
	err      error
	file     string
	line     int
	function string
}

func captureFatalReport(err error) fatalReport {
	pc, file, line, _ := runtime.Caller(2)
	fn := runtime.FuncForPC(pc)
	r := fatalReport{err: err, file: file, line: line}
	if fn != nil {
		r.function = fn.Name()
	}
	return r
}

func logFatal(log *logrus.Logger, file string, line int, function string, err error) {
	fields := logrus.Fields{"file": file, "line": line}
	if function != "" {
		fields["function"] = function
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		fields["errno"] = errno.Error()
	}
	log.WithFields(fields).WithError(err).Error("fatal error, shutting down")
}

// FatalExit logs a fatal condition — a kernel-setup failure with no workers
// yet running — with the caller's file/function/line and the underlying
// errno when there is one, runs Cleanup, and terminates the process. It
// must only be called from a goroutine that holds none of the Controller's
// WaitGroup slots (e.g. the caller of Start, on Start's own error return);
// a running worker reports a fatal condition through reportFatal instead,
// so the fatal supervisor goroutine can stop and join every worker before
// Cleanup runs.
func FatalExit(log *logrus.Logger, c *Controller, err error) {
	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	name := ""
	if fn != nil {
		name = fn.Name()
	}
	logFatal(log, file, line, name, err)
	if c != nil {
		c.Cleanup()
	}
	os.Exit(1)
}

// reportFatal hands a worker's fatal error to the supervisor goroutine
// started by Start and returns immediately. It never blocks — the channel
// is buffered for exactly one report and a second, concurrent panic is
// dropped — so the reporting worker's own deferred wg.Done() still runs
// right away instead of waiting on anything the supervisor does.
func (c *Controller) reportFatal(err error) {
	report := captureFatalReport(err)
	select {
	case c.fatal <- report:
	default:
	}
}

// superviseFatal watches for a fatal report from any worker. On the first
// one it stops and joins every worker — including the one that reported
// it, whose deferred wg.Done() runs right after its report is sent — and
// only then logs, cleans up, and exits. Running this on its own goroutine,
// never a worker's, is what makes waiting on the full WaitGroup safe: no
// goroutine here is waiting on its own completion.
//
// If every worker instead returns normally (Stop called by the owner of
// the Controller) and no report is pending, superviseFatal simply returns
// without acting.
func (c *Controller) superviseFatal() {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var report fatalReport
	select {
	case report = <-c.fatal:
	case <-done:
		select {
		case report = <-c.fatal:
		default:
			return
		}
	}
	c.Stop()
	logFatal(c.log, report.file, report.line, report.function, report.err)
	c.Cleanup()
	os.Exit(1)
}

// runWorkerRecovered drives a worker to completion and converts a panic (an
// invariant violation, per the error-handling design) into a fatal report
// instead of letting it crash the process without cleanup. It must not call
// Stop or Cleanup itself: this goroutine still owns an un-decremented
// WaitGroup slot at the point the panic is recovered, so either call would
// block forever waiting on itself.
func runWorkerRecovered(c *Controller, workerIdx int, run func()) {
	defer func() {
		if r := recover(); r != nil {
			c.reportFatal(fmt.Errorf("worker %d: invariant violation: %v", workerIdx, r))
		}
	}()
	run()
}
