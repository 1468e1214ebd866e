// Package resolver implements the dependency resolver (C4): given a set
// of requested formula names, it fetches metadata breadth-first in
// parallel rounds, builds the dependency DAG, verifies it is acyclic,
// and produces a reverse-topologically sorted install order with each
// node classified against what is already in the Cellar.
package resolver

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/metadata"
	"github.com/tsukumogami/cellar/internal/platform"
)

// fanout bounds the number of concurrent metadata lookups per round to a
// small semaphore, so resolving a deep dependency tree doesn't open
// hundreds of simultaneous requests against the metadata API.
const fanout = 16

// Classification describes how a resolved node relates to what is
// already installed.
type Classification int

const (
	// Fresh means the formula has no installed keg at all.
	Fresh Classification = iota
	// AlreadyInstalledAtDesired means the desired version is already
	// the current version; no work is needed.
	AlreadyInstalledAtDesired
	// UpgradeFrom means an older version is installed and must be
	// upgraded to the desired version.
	UpgradeFrom
)

// Node is one formula in the resolved install order.
type Node struct {
	Name             string
	Formula          *metadata.Formula
	DesiredVersion   string
	Classification   Classification
	CurrentVersion   string // set only when Classification == UpgradeFrom
	BottleTag        string // the tag whose Files entry was selected (host tag or a fallback)
	DeclaredDirectly bool   // true if requested directly, false if pulled in as a dependency
}

// Options configures resolution policy.
type Options struct {
	// IncludeBuildDeps also resolves BuildDependencies, not just runtime
	// Dependencies.
	IncludeBuildDeps bool
	// AllowBrewFallback lets any formula with no bottle for this platform
	// resolve with an empty BottleTag instead of failing with
	// NoBottleForPlatform; the node stays in the plan, and the caller
	// shells out to a host `brew` for it.
	AllowBrewFallback bool
}

// Resolver resolves formula names into an ordered install plan.
type Resolver struct {
	client metadata.Client
	cellar *cellar.Cellar
	probe  platform.Probe
}

// New creates a Resolver that fetches metadata via client and checks
// installed state via c.
func New(client metadata.Client, c *cellar.Cellar, probe platform.Probe) *Resolver {
	return &Resolver{client: client, cellar: c, probe: probe}
}

// Resolve fetches metadata for names and all their dependencies in
// parallel rounds, then returns the install order.
func (r *Resolver) Resolve(ctx context.Context, names []string, opts Options) ([]Node, error) {
	resolved := make(map[string]*metadata.Formula)
	declaredDirectly := make(map[string]bool, len(names))
	for _, n := range names {
		declaredDirectly[n] = true
	}

	worklist := append([]string(nil), names...)
	for len(worklist) > 0 {
		batch := dedupeAgainst(worklist, resolved)
		worklist = nil

		fetched, err := r.fetchBatch(ctx, batch)
		if err != nil {
			return nil, err
		}

		for name, f := range fetched {
			resolved[name] = f
			for _, dep := range f.Dependencies {
				if _, ok := resolved[dep]; !ok {
					worklist = append(worklist, dep)
				}
			}
			if opts.IncludeBuildDeps {
				for _, dep := range f.BuildDependencies {
					if _, ok := resolved[dep]; !ok {
						worklist = append(worklist, dep)
					}
				}
			}
		}
	}

	graph := buildGraph(resolved, opts.IncludeBuildDeps)
	if err := verifyAcyclic(graph); err != nil {
		return nil, err
	}

	order := reverseTopoSort(graph)

	nodes := make([]Node, 0, len(order))
	for _, name := range order {
		f := resolved[name]
		node, err := r.classify(name, f, declaredDirectly[name], opts)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// fetchBatch issues GetFormula calls for names in parallel, bounded by
// fanout, and returns every result keyed by name.
func (r *Resolver) fetchBatch(ctx context.Context, names []string) (map[string]*metadata.Formula, error) {
	results := make(map[string]*metadata.Formula, len(names))
	if len(names) == 0 {
		return results, nil
	}

	resultsCh := make(chan struct {
		name string
		f    *metadata.Formula
	}, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanout)

	for _, name := range names {
		name := name
		g.Go(func() error {
			f, err := r.client.GetFormula(gctx, name)
			if err != nil {
				return err
			}
			resultsCh <- struct {
				name string
				f    *metadata.Formula
			}{name, f}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(resultsCh)

	for entry := range resultsCh {
		results[entry.name] = entry.f
	}
	return results, nil
}

// dedupeAgainst returns the names in worklist not already present in
// resolved, with duplicates within worklist itself collapsed.
func dedupeAgainst(worklist []string, resolved map[string]*metadata.Formula) []string {
	seen := make(map[string]bool, len(worklist))
	var out []string
	for _, name := range worklist {
		if resolved[name] != nil || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// buildGraph returns an adjacency map from formula name to its
// dependency names, restricted to names present in resolved.
func buildGraph(resolved map[string]*metadata.Formula, includeBuildDeps bool) map[string][]string {
	graph := make(map[string][]string, len(resolved))
	for name, f := range resolved {
		deps := append([]string(nil), f.Dependencies...)
		if includeBuildDeps {
			deps = append(deps, f.BuildDependencies...)
		}
		var present []string
		for _, d := range deps {
			if _, ok := resolved[d]; ok {
				present = append(present, d)
			}
		}
		graph[name] = present
	}
	return graph
}

// verifyAcyclic runs a three-color DFS over graph, returning
// cellarerr.DependencyCycle with the offending path on the first cycle
// found.
func verifyAcyclic(graph map[string][]string) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(graph))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			cycleStart := indexOf(path, name)
			return cellarerr.DependencyCycle(append(append([]string(nil), path[cycleStart:]...), name))
		}

		color[name] = gray
		path = append(path, name)
		for _, dep := range graph[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func indexOf(path []string, name string) int {
	for i, p := range path {
		if p == name {
			return i
		}
	}
	return 0
}

// reverseTopoSort returns graph's nodes in reverse-topological order
// (dependencies before dependents), breaking ties by full name so the
// result is deterministic across runs.
func reverseTopoSort(graph map[string][]string) []string {
	visited := make(map[string]bool, len(graph))
	var order []string

	names := make([]string, 0, len(graph))
	for name := range graph {
		names = append(names, name)
	}
	sort.Strings(names)

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true

		deps := append([]string(nil), graph[name]...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, name)
	}

	for _, name := range names {
		visit(name)
	}
	return order
}

// classify determines whether name needs to be installed fresh,
// upgraded, or is already satisfied, and selects the bottle tag to
// download from.
func (r *Resolver) classify(name string, f *metadata.Formula, declaredDirectly bool, opts Options) (Node, error) {
	node := Node{
		Name:             name,
		Formula:          f,
		DesiredVersion:   f.DesiredVersion(),
		DeclaredDirectly: declaredDirectly,
	}

	tag, err := r.selectBottleTag(name, f, opts)
	if err != nil {
		return Node{}, err
	}
	node.BottleTag = tag

	current, err := r.cellar.CurrentVersion(name)
	if err != nil {
		node.Classification = Fresh
		return node, nil
	}

	if current == node.DesiredVersion {
		node.Classification = AlreadyInstalledAtDesired
	} else {
		node.Classification = UpgradeFrom
		node.CurrentVersion = current
	}
	return node, nil
}

// selectBottleTag picks the bottle tag whose Files entry to use: the
// host's exact tag, then progressively older fallbacks, per
// platform.FallbackTags. Returns cellarerr.NoBottleForPlatform if none
// match and the caller hasn't allowed a host-brew fallback.
func (r *Resolver) selectBottleTag(name string, f *metadata.Formula, opts Options) (string, error) {
	if _, ok := f.Bottle.Stable.Files[r.probe.BottleTag]; ok {
		return r.probe.BottleTag, nil
	}
	for _, tag := range platform.FallbackTags(r.probe.BottleTag) {
		if _, ok := f.Bottle.Stable.Files[tag]; ok {
			return tag, nil
		}
	}

	if opts.AllowBrewFallback {
		return "", nil
	}
	return "", cellarerr.NoBottleForPlatform(name, r.probe.BottleTag)
}
