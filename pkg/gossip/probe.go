package gossip

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/gossipd/pkg/log"
	"github.com/andydunstall/gossipd/pkg/peer"
)

var errReachable = errors.New("reachable")

// probeTransport sends probes over the stream transport.
type probeTransport interface {
	// probe returns an error if the node at target doesn't respond.
	probe(ctx context.Context, target peer.Endpoint) error

	// requestProbe asks helper to probe target, returning whether target
	// responded to helper.
	requestProbe(ctx context.Context, helper, target peer.Endpoint) (bool, error)
}

// prober confirms a peer is unreachable before it is suspected.
//
// The local failure detector only reflects the network path between the
// local node and the peer, so when a direct probe fails other alive peers are
// asked to probe it too. The peer is only considered unreachable if every
// probe fails.
type prober struct {
	transport probeTransport

	metrics *Metrics

	logger log.Logger
}

func newProber(
	transport probeTransport,
	metrics *Metrics,
	logger log.Logger,
) *prober {
	return &prober{
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Reachable returns whether target responds to a direct probe, or to a probe
// from any of the helpers.
func (p *prober) Reachable(
	ctx context.Context,
	target peer.Endpoint,
	helpers []peer.Peer,
) bool {
	p.metrics.Probes.Inc()
	err := p.transport.probe(ctx, target)
	if err == nil {
		return true
	}

	p.logger.Debug(
		"probe failed",
		zap.String("peer", target.String()),
		zap.Int("helpers", len(helpers)),
		zap.Error(err),
	)

	if len(helpers) == 0 {
		return false
	}

	// Cancel the outstanding requests once any helper reaches the target.
	group, ctx := errgroup.WithContext(ctx)
	for _, helper := range helpers {
		helper := helper.ManagementEndpoint
		if helper == target {
			continue
		}

		group.Go(func() error {
			p.metrics.ProbeRequests.Inc()
			reachable, err := p.transport.requestProbe(ctx, helper, target)
			if err != nil {
				p.logger.Debug(
					"probe request failed",
					zap.String("peer", target.String()),
					zap.String("helper", helper.String()),
					zap.Error(err),
				)
				return nil
			}
			if reachable {
				p.logger.Debug(
					"peer reachable from helper",
					zap.String("peer", target.String()),
					zap.String("helper", helper.String()),
				)
				return errReachable
			}
			return nil
		})
	}
	return errors.Is(group.Wait(), errReachable)
}
