// Package network holds the registry of pod.Network implementations.
// Each implementation lives in its own subpackage
// and registers itself under a type name when imported,
// so that a network can be chosen by configuration.
package network

import (
	"context"
	"fmt"
	"sort"

	"github.com/podgraph/pod"
)

// Factory creates a network from a configuration map.
type Factory func(context.Context, map[string]interface{}) (pod.Network, error)

var registry = make(map[string]Factory)

// Register makes a network type available to Create.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces a network of the registered type key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (pod.Network, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// FromConfig produces a network from a configuration map
// whose "type" entry names the registered network type.
func FromConfig(ctx context.Context, conf map[string]interface{}) (pod.Network, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`missing "type" parameter`)
	}
	return Create(ctx, typ, conf)
}

// Types lists the registered network types.
func Types() []string {
	var out []string
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
