package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/peers"
)

// Bootstrap copies the state of one of the candidates and commits it to the
// Consumer.
//
// Candidates are tried in order, in rounds. A candidate is retried up to
// AttemptsPerPeer times in a row as long as its failures are transient
// (Timeout, ProviderUnavailable), each new session resuming from what was
// received before. Any other failure, or running out of attempts, discards
// what was received from the candidate and moves to the next one. The whole
// process stops after MaxAttempts sessions with a NoBootstrapSource error
// that aggregates the failures.
func (c *Client) Bootstrap(ctx context.Context, candidates []peers.Peer) (*Bootstrapped, error) {
	if len(candidates) == 0 {
		return nil, common.NewBootstrapErr(common.NoBootstrapSource, "no candidate")
	}

	var (
		failures []error
		p        *progress
		next     int
		onPeer   int
	)
	defer func() {
		if p != nil {
			p.discard()
		}
	}()

	for attempt := 0; attempt < c.conf.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		if p == nil {
			var err error
			if p, err = c.newProgress(candidates[next]); err != nil {
				return nil, err
			}
			next = (next + 1) % len(candidates)
			onPeer = 0
		}
		onPeer++

		b, err := c.attempt(ctx, p)
		if err == nil {
			// the state now belongs to the consumer
			p = nil
			c.logger.WithFields(logrus.Fields{
				"server":       b.Peer.String(),
				"attempts":     attempt + 1,
				"final_slot":   b.State.FinalSlot(),
				"clock_offset": b.ClockOffset,
			}).Info("Bootstrap completed")
			if err := c.consumer.CommitBootstrappedState(b); err != nil {
				b.State.Close()
				return nil, fmt.Errorf("committing bootstrapped state: %w", err)
			}
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		failures = append(failures, fmt.Errorf("attempt %d on %s: %w", attempt+1, p.peer.String(), err))

		retry := common.Retryable(err) && onPeer < c.conf.AttemptsPerPeer
		c.logger.WithFields(logrus.Fields{
			"server":  p.peer.String(),
			"attempt": attempt + 1,
			"retry":   retry,
		}).WithError(err).Warn("Bootstrap attempt failed")

		if !retry {
			p.discard()
			p = nil
		}
	}

	return nil, common.WrapBootstrapErr(common.NoBootstrapSource, errors.Join(failures...),
		"%d attempts failed", len(failures))
}

// backoff returns BackoffBase * 2^n, capped at BackoffMax.
func (c *Client) backoff(n int) time.Duration {
	d := c.conf.BackoffBase
	for i := 0; i < n && d < c.conf.BackoffMax; i++ {
		d *= 2
	}
	if d > c.conf.BackoffMax {
		d = c.conf.BackoffMax
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
