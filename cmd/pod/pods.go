package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/podgraph/pod/key"
)

func (c maincmd) initKeys(ctx context.Context, mnemonic string, _ []string) error {
	phrase := mnemonic
	if phrase == "" {
		var err error
		phrase, err = key.NewMnemonic()
		if err != nil {
			return errors.Wrap(err, "generating mnemonic")
		}
	}

	m, err := c.open(ctx, phrase)
	if err != nil {
		return err
	}
	defer m.Close()

	if mnemonic == "" {
		fmt.Printf("Your seed phrase (write it down):\n%s\n", phrase)
	}
	fmt.Printf("configuration pod %s\n", m.ConfigAddress())
	return nil
}

func (c maincmd) create(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: create NAME")
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	addr, _, err := m.CreatePod(ctx, args[0])
	if err != nil {
		return errors.Wrapf(err, "creating pod %s", args[0])
	}
	fmt.Println(addr)
	return nil
}

func (c maincmd) rm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rm POD")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.RemovePod(ctx, addr)
}

func (c maincmd) rename(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: rename POD NAME")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.RenamePod(ctx, addr, args[1])
}

func (c maincmd) ref(ctx context.Context, args []string) error {
	return c.editRef(ctx, args, true)
}

func (c maincmd) unref(ctx context.Context, args []string) error {
	return c.editRef(ctx, args, false)
}

func (c maincmd) editRef(ctx context.Context, args []string, add bool) error {
	if len(args) != 2 {
		return errors.New("usage: ref|unref FROM TO")
	}
	from, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	to, err := parseAddr(args[1])
	if err != nil {
		return err
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	if add {
		return m.AddReference(ctx, from, to)
	}
	return m.RemoveReference(ctx, from, to)
}

func (c maincmd) ls(ctx context.Context, _ []string) error {
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	owned, err := m.ListOwnedPods(ctx)
	if err != nil {
		return errors.Wrap(err, "listing pods")
	}
	for _, addr := range owned {
		meta, err := m.Pod(addr)
		if err != nil {
			return errors.Wrapf(err, "getting pod %s", addr)
		}
		fmt.Printf("%s v%d r%d %s\n", addr, meta.Version, meta.Revision, meta.Name)
	}
	return nil
}

func (c maincmd) refs(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: refs POD")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	refs, err := m.ListReferences(ctx, addr)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fmt.Println(ref)
	}
	return nil
}
