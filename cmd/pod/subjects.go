package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/podgraph/pod/graph"
)

func (c maincmd) put(ctx context.Context, podstr string, args []string) error {
	if len(args) != 1 || podstr == "" {
		return errors.New("usage: put -pod POD ID < JSON")
	}
	addr, err := parseAddr(podstr)
	if err != nil {
		return err
	}

	data, err := ioutil.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.PutSubject(ctx, addr, args[0], data)
}

func (c maincmd) rmsubj(ctx context.Context, podstr string, args []string) error {
	if len(args) != 1 || podstr == "" {
		return errors.New("usage: rmsubj -pod POD ID")
	}
	addr, err := parseAddr(podstr)
	if err != nil {
		return err
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	return m.RemoveSubject(ctx, addr, args[0])
}

func (c maincmd) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get ID")
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	doc, addr, err := m.GetSubject(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "from pod %s\n", addr)
	_, err = fmt.Printf("%s\n", doc)
	return errors.Wrap(err, "writing to stdout")
}

func (c maincmd) subjects(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: subjects POD")
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

	ids, err := m.ListSubjects(ctx, addr)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func (c maincmd) search(ctx context.Context, typ, property, value string, limit int, args []string) error {
	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	matches, err := m.Search(ctx, graph.Query{
		Text:     strings.Join(args, " "),
		Type:     typ,
		Property: property,
		Value:    value,
		Limit:    limit,
	})
	if err != nil {
		return errors.Wrap(err, "searching")
	}
	for _, match := range matches {
		fmt.Printf("%d\t%d\t%s\t%s\t%s\n", match.Score, match.Depth, match.Pod, match.PodName, match.Subject)
	}
	return nil
}

func (c maincmd) query(ctx context.Context, podstr, subject, predicate, object string, args []string) error {
	if len(args) != 0 {
		return errors.New("usage: query [-pod POD] [-subject S] [-predicate P] [-object O]")
	}

	p := graph.Pattern{Subject: subject, Predicate: predicate, Object: object}
	if podstr != "" {
		addr, err := parseAddr(podstr)
		if err != nil {
			return err
		}
		p.Graph = &addr
	}

	m, err := c.open(ctx, "")
	if err != nil {
		return err
	}
	defer m.Close()

	quads, err := m.Query(ctx, p)
	if err != nil {
		return errors.Wrap(err, "querying")
	}
	for _, q := range quads {
		obj := "<" + q.Object + ">"
		if q.Literal {
			obj = strconv.Quote(q.Object)
		}
		fmt.Printf("%s\t<%s>\t<%s>\t%s\n", q.Graph, q.Subject, q.Predicate, obj)
	}
	return nil
}
