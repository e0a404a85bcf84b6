// Command pod manages a pod cache from the command line.
//
// Usage:
//
//   pod [-config FILE] [-v] SUBCOMMAND ARGS...
//
// The config file is JSON:
//
//   {
//     "root": "/home/me/.pod",
//     "password_env": "POD_PASSWORD",
//     "chunk_size": 0,
//     "network": {"type": "sqlite3", "path": "/home/me/pods.db"}
//   }
//
// The network object is passed to network.FromConfig;
// its "type" names one of the registered network backends.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/podgraph/pod"
	"github.com/podgraph/pod/manager"
	"github.com/podgraph/pod/network"
	_ "github.com/podgraph/pod/network/file"
	_ "github.com/podgraph/pod/network/gcs"
	_ "github.com/podgraph/pod/network/logging"
	_ "github.com/podgraph/pod/network/lru"
	_ "github.com/podgraph/pod/network/mem"
	_ "github.com/podgraph/pod/network/pg"
	_ "github.com/podgraph/pod/network/replica"
	_ "github.com/podgraph/pod/network/sqlite3"
)

type config struct {
	Root        string                 `json:"root"`
	PasswordEnv string                 `json:"password_env"`
	ChunkSize   int                    `json:"chunk_size"`
	Network     map[string]interface{} `json:"network"`
}

type maincmd struct {
	conf config
	net  pod.Network
}

func main() {
	var (
		configPath = flag.String("config", "podconf.json", "path to config file")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	conf, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	net, err := network.FromConfig(ctx, conf.Network)
	if err != nil {
		log.Fatalf("Creating network: %s", err)
	}

	err = subcmd.Run(ctx, maincmd{conf: conf, net: net}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (config, error) {
	var conf config

	f, err := os.Open(path)
	if err != nil {
		return conf, errors.Wrapf(err, "opening config file %s", path)
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(&conf); err != nil {
		return conf, errors.Wrapf(err, "decoding config file %s", path)
	}
	if conf.Root == "" {
		return conf, errors.Errorf("config file %s missing `root` parameter", path)
	}
	if _, ok := conf.Network["type"].(string); !ok {
		return conf, errors.Errorf("config file %s missing network `type` parameter", path)
	}
	if conf.PasswordEnv == "" {
		conf.PasswordEnv = "POD_PASSWORD"
	}
	return conf, nil
}

func (c maincmd) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"create", c.create, nil,
		"get", c.get, nil,
		"init", c.initKeys, subcmd.Params(
			"mnemonic", subcmd.String, "", "seed phrase to restore (default: generate one)",
		),
		"ls", c.ls, nil,
		"put", c.put, subcmd.Params(
			"pod", subcmd.String, "", "pod to write the subject to",
		),
		"query", c.query, subcmd.Params(
			"pod", subcmd.String, "", "match statements in this pod only",
			"subject", subcmd.String, "", "match statements about this subject",
			"predicate", subcmd.String, "", "match statements with this predicate",
			"object", subcmd.String, "", "match statements with this object",
		),
		"ref", c.ref, nil,
		"refresh", c.refresh, subcmd.Params(
			"depth", subcmd.Int, 2, "follow references this many steps from owned pods",
		),
		"refs", c.refs, nil,
		"rename", c.rename, nil,
		"rm", c.rm, nil,
		"rmsubj", c.rmsubj, subcmd.Params(
			"pod", subcmd.String, "", "pod to remove the subject from",
		),
		"search", c.search, subcmd.Params(
			"type", subcmd.String, "", "match subjects of this type",
			"property", subcmd.String, "", "match subjects having this property",
			"value", subcmd.String, "", "match subjects having a value containing this",
			"limit", subcmd.Int, 20, "maximum number of results (0 for no limit)",
		),
		"subjects", c.subjects, nil,
		"unref", c.unref, nil,
		"upload", c.upload, subcmd.Params(
			"pod", subcmd.String, "", "upload only this pod (default: all)",
		),
		"wallet", c.wallet, nil,
	)
}

// open opens the manager.
// The mnemonic is needed only the first time.
func (c maincmd) open(ctx context.Context, mnemonic string) (*manager.Manager, error) {
	password := os.Getenv(c.conf.PasswordEnv)
	if password == "" {
		return nil, errors.Errorf("no password in $%s", c.conf.PasswordEnv)
	}
	m, err := manager.New(ctx, manager.Config{
		Root:      c.conf.Root,
		Password:  []byte(password),
		Mnemonic:  mnemonic,
		ChunkSize: c.conf.ChunkSize,
		Logger:    log.StandardLogger(),
	}, c.net)
	return m, errors.Wrapf(err, "opening %s", c.conf.Root)
}

func parseAddr(s string) (pod.Address, error) {
	addr, err := pod.AddressFromHex(s)
	return addr, errors.Wrapf(err, "decoding address %s", s)
}
