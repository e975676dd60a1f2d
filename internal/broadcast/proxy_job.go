package broadcast

import (
	"context"

	"github.com/die-net/tetherproxy/internal/logger"
)

// proxyJob follows the published connection info and keeps the proxy
// running on the current host.
type proxyJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	// err is set before done is closed.
	err error
}

func (c *Coordinator) currentJob() *proxyJob {
	c.jobMu.Lock()
	defer c.jobMu.Unlock()
	return c.job
}

// launchProxy marks the hotspot running and starts the proxy job.
func (c *Coordinator) launchProxy(ctx context.Context) *proxyJob {
	ctx, cancel := context.WithCancel(ctx)
	job := &proxyJob{cancel: cancel, done: make(chan struct{})}

	c.jobMu.Lock()
	c.job = job
	c.jobMu.Unlock()

	c.status.set(RunningStatus{State: Running}, false)
	logger.Infof("hotspot running")

	go func() {
		defer close(job.done)
		job.err = c.runProxy(ctx)
	}()
	return job
}

// killProxyJob cancels the proxy job, if any, and waits for it to finish.
func (c *Coordinator) killProxyJob() {
	c.jobMu.Lock()
	job := c.job
	c.job = nil
	c.jobMu.Unlock()

	if job == nil {
		return
	}
	job.cancel()
	<-job.done
	logger.Debugf("proxy job stopped")
}

// runProxy runs the proxy for each distinct connected host. It returns when
// ctx is done, or with the error that made the proxy fail, after setting the
// Error status.
func (c *Coordinator) runProxy(ctx context.Context) error {
	failures := make(chan error, 1)
	onError := func(err error) {
		select {
		case failures <- err:
		default:
		}
	}

	var (
		host      string
		runCancel context.CancelFunc
		runDone   chan struct{}
	)
	stopRunner := func() {
		if runCancel == nil {
			return
		}
		runCancel()
		<-runDone
		runCancel, runDone, host = nil, nil, ""
	}
	defer stopRunner()

	updates := c.connection.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-failures:
			stopRunner()
			logger.Errorf("proxy failed: %v", err)
			c.shutdownForStatus(ErrorStatus(ProxyError, err), false)
			return err

		case info, ok := <-updates:
			if !ok {
				return nil
			}
			switch v := info.(type) {
			case ConnectionConnected:
				if v.HostName == host {
					continue
				}
				stopRunner()

				host = v.HostName
				var runCtx context.Context
				runCtx, runCancel = context.WithCancel(ctx)
				done := make(chan struct{})
				runDone = done
				go func() {
					defer close(done)
					if err := c.proxy.Run(runCtx, v.HostName, onError); err != nil && runCtx.Err() == nil {
						onError(err)
					}
				}()
				logger.Infof("proxy started on %s", v.HostName)

			case ConnectionEmpty, ConnectionError:
				if runCancel != nil {
					logger.Infof("hotspot connection lost (%v), stopping proxy", v)
				}
				stopRunner()
			}
		}
	}
}
