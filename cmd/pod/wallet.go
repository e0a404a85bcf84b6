package main

import (
	"context"
	"fmt"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
)

type walletcmd struct {
	maincmd
}

func (c maincmd) wallet(ctx context.Context, args []string) error {
	return subcmd.Run(ctx, walletcmd{maincmd: c}, args)
}

func (c walletcmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"add", c.add, nil,
		"get", c.get, nil,
		"ls", c.ls, nil,
		"rm", c.rm, nil,
		"use", c.use, nil,
	)
}

func (c walletcmd) add(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: wallet add NAME KEY")
	}
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.AddWallet(args[0], args[1])
}

func (c walletcmd) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wallet get NAME")
	}
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	k, err := m.Wallet(args[0])
	if err != nil {
		return err
	}
	fmt.Println(k)
	return nil
}

func (c walletcmd) ls(ctx context.Context, _ []string) error {
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	names, active, err := m.Wallets()
	if err != nil {
		return err
	}
	for _, name := range names {
		mark := " "
		if name == active {
			mark = "*"
		}
		fmt.Printf("%s %s\n", mark, name)
	}
	return nil
}

func (c walletcmd) rm(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wallet rm NAME")
	}
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.RemoveWallet(args[0])
}

func (c walletcmd) use(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: wallet use NAME")
	}
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.SetActiveWallet(args[0])
}
