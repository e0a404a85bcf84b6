// Package logging implements a network that delegates everything to a nested network,
// logging operations as they happen.
package logging

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/network"
)

var _ pod.Network = &Network{}

type Network struct {
	n      pod.Network
	logger log.FieldLogger
}

// New produces a Network that logs to logger.
// If logger is nil, the standard logrus logger is used.
func New(n pod.Network, logger log.FieldLogger) *Network {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Network{n: n, logger: logger}
}

func (n *Network) ResolvePointer(ctx context.Context, addr pod.Address) (pod.Address, uint64, error) {
	target, version, err := n.n.ResolvePointer(ctx, addr)
	l := n.logger.WithField("pointer", addr)
	if err != nil {
		l.WithError(err).Debug("ResolvePointer failed")
	} else {
		l.WithFields(log.Fields{"target": target, "version": version}).Debug("ResolvePointer")
	}
	return target, version, err
}

func (n *Network) FetchBlob(ctx context.Context, addr pod.Address) ([]byte, error) {
	b, err := n.n.FetchBlob(ctx, addr)
	l := n.logger.WithField("blob", addr)
	if err != nil {
		l.WithError(err).Debug("FetchBlob failed")
	} else {
		l.WithField("size", len(b)).Debug("FetchBlob")
	}
	return b, err
}

func (n *Network) PutBlob(ctx context.Context, b []byte) (pod.Address, error) {
	addr, err := n.n.PutBlob(ctx, b)
	l := n.logger.WithFields(log.Fields{"blob": addr, "size": len(b)})
	if err != nil {
		l.WithError(err).Error("PutBlob failed")
	} else {
		l.Debug("PutBlob")
	}
	return addr, err
}

func (n *Network) UpdatePointer(ctx context.Context, u *pod.PointerUpdate) (uint64, error) {
	version, err := n.n.UpdatePointer(ctx, u)
	l := n.logger.WithFields(log.Fields{"pointer": u.Pointer, "target": u.Target, "expected": u.Expected})
	switch {
	case errors.Is(err, pod.ErrVersionConflict):
		l.WithError(err).Warn("UpdatePointer conflict")
	case err != nil:
		l.WithError(err).Error("UpdatePointer failed")
	default:
		l.WithField("version", version).Info("UpdatePointer")
	}
	return version, err
}

func init() {
	network.Register("logging", func(ctx context.Context, conf map[string]interface{}) (pod.Network, error) {
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedNetwork, err := network.FromConfig(ctx, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested network")
		}
		return New(nestedNetwork, nil), nil
	})
}
