package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/podgraph/pod"
)

func (c maincmd) upload(ctx context.Context, podstr string, _ []string) error {
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	if podstr != "" {
		addr, err := parseAddr(podstr)
		if err != nil {
			return err
		}
		return m.UploadPod(ctx, addr)
	}

	err = m.UploadAll(ctx)
	var pf *pod.PartialFailure
	if errors.As(err, &pf) {
		for addr, e := range pf.Failed {
			fmt.Printf("%s: %s\n", addr, e)
		}
	}
	return err
}

func (c maincmd) refresh(ctx context.Context, depth int, _ []string) error {
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	if err = m.RefreshCache(ctx); err != nil {
		return errors.Wrap(err, "refreshing cache")
	}
	if depth == 0 {
		return nil
	}
	return errors.Wrap(m.RefreshReferences(ctx, depth), "refreshing references")
}
