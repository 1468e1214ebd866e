// Package orchestrate implements the install orchestrator (C10): the
// glue that drives a resolved plan from the resolver through download,
// extraction, relocation, the receipt writer and the linker.
package orchestrate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/tsukumogami/cellar/internal/cellar"
	"github.com/tsukumogami/cellar/internal/cellarerr"
	"github.com/tsukumogami/cellar/internal/config"
	"github.com/tsukumogami/cellar/internal/download"
	"github.com/tsukumogami/cellar/internal/extract"
	"github.com/tsukumogami/cellar/internal/link"
	"github.com/tsukumogami/cellar/internal/log"
	"github.com/tsukumogami/cellar/internal/platform"
	"github.com/tsukumogami/cellar/internal/receipt"
	"github.com/tsukumogami/cellar/internal/relocate"
	"github.com/tsukumogami/cellar/internal/resolver"
)

// Options controls orchestrator behavior for one plan.
type Options struct {
	Force        bool // permit overwriting conflicting directory-tree links
	BrewFallback bool // exec the host `brew install` for nodes with no bottle
}

// Orchestrator drives a resolved install plan to completion.
type Orchestrator struct {
	cfg       *config.Config
	cellar    *cellar.Cellar
	pool      *download.Pool
	relocator *relocate.Relocator
	linker    *link.Linker
	probe     platform.Probe
	logger    log.Logger
}

// New creates an Orchestrator wired to the given collaborators.
func New(cfg *config.Config, c *cellar.Cellar, pool *download.Pool, probe platform.Probe, l log.Logger) *Orchestrator {
	if l == nil {
		l = log.NewNoop()
	}
	return &Orchestrator{
		cfg:       cfg,
		cellar:    c,
		pool:      pool,
		relocator: relocate.New(l),
		linker:    link.New(cfg),
		probe:     probe,
		logger:    log.Component(l, "orchestrate"),
	}
}

// Install drives plan (the resolver's ordered node list) to completion.
// Downloads for every node needing one run in parallel through the
// shared pool; for each node, extract → relocate → receipt → link runs
// strictly sequentially and in plan order, since those steps mutate the
// Cellar and later nodes may depend on earlier ones already being
// linked.
func (o *Orchestrator) Install(ctx context.Context, plan []resolver.Node, opts Options) error {
	var toInstall []resolver.Node
	for _, n := range plan {
		if n.Classification == resolver.AlreadyInstalledAtDesired {
			continue
		}
		toInstall = append(toInstall, n)
	}

	var requests []download.Request
	fallback := make(map[string]bool)
	for _, n := range toInstall {
		if n.BottleTag == "" {
			if !opts.BrewFallback {
				return cellarerr.NoBottleForPlatform(n.Name, o.probe.BottleTag)
			}
			fallback[n.Name] = true
			continue
		}
		file := n.Formula.Bottle.Stable.Files[n.BottleTag]
		requests = append(requests, download.Request{URL: file.URL, SHA256: file.Sha256, DisplayName: n.Name})
	}

	results, err := o.pool.FetchAll(ctx, requests)
	if err != nil {
		return err
	}
	byName := make(map[string]download.Result, len(results))
	for _, r := range results {
		byName[r.Request.DisplayName] = r
	}

	for _, n := range toInstall {
		if fallback[n.Name] {
			if err := o.installViaBrewFallback(ctx, n); err != nil {
				return err
			}
			continue
		}
		if err := o.installNode(n, byName[n.Name], plan, opts); err != nil {
			return err
		}
	}
	return nil
}

// installNode performs the strictly sequential per-keg portion of the
// plan: extract, relocate, write the receipt, then link.
func (o *Orchestrator) installNode(n resolver.Node, result download.Result, plan []resolver.Node, opts Options) error {
	kegPath, err := extract.Extract(result.LocalPath, o.cfg.Cellar)
	if err != nil {
		return err
	}

	if err := o.relocator.Relocate(kegPath, o.cfg.Prefix, o.cfg.Cellar); err != nil {
		return err
	}

	r := buildReceipt(n, plan, o.probe)
	if err := receipt.WriteAtomic(filepath.Join(kegPath, "INSTALL_RECEIPT.json"), r); err != nil {
		return err
	}

	force := opts.Force || n.Classification == resolver.UpgradeFrom
	warnings, err := o.linker.Link(n.Name, n.DesiredVersion, n.Formula.KegOnly, force)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		o.logger.Warn(w)
	}

	if n.Classification == resolver.UpgradeFrom && n.CurrentVersion != "" && n.CurrentVersion != n.DesiredVersion {
		if err := o.Uninstall(n.Name, n.CurrentVersion); err != nil {
			return err
		}
	}
	return nil
}

// installViaBrewFallback shells out to a host Homebrew install for a
// formula with no bottle for this platform, when the caller has opted
// into that fallback.
func (o *Orchestrator) installViaBrewFallback(ctx context.Context, n resolver.Node) error {
	brewPath, err := exec.LookPath("brew")
	if err != nil {
		return cellarerr.NoBottleForPlatform(n.Name, o.probe.BottleTag)
	}

	fullName := n.Name
	if n.Formula != nil && n.Formula.FullName != "" {
		fullName = n.Formula.FullName
	}

	cmd := exec.CommandContext(ctx, brewPath, "install", fullName)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("brew install %s: %s: %w", fullName, string(output), err)
	}
	return nil
}

// Uninstall unlinks and removes name's keg at version.
func (o *Orchestrator) Uninstall(name, version string) error {
	if err := o.linker.Unlink(name, version); err != nil {
		return err
	}
	return os.RemoveAll(o.cfg.KegDir(name, version))
}

// Reinstall uninstalls the currently linked version of name, if any,
// then installs plan fresh. Kegs of other versions are left untouched.
func (o *Orchestrator) Reinstall(ctx context.Context, name string, plan []resolver.Node, opts Options) error {
	if linked, ok, err := o.cellar.LinkedVersionOf(name); err != nil {
		return err
	} else if ok {
		if err := o.Uninstall(name, linked); err != nil {
			return err
		}
	}
	return o.Install(ctx, plan, opts)
}

// buildReceipt synthesizes the install receipt for n from the
// resolver's own output: each of n's formula's direct dependencies is
// looked up in plan to pull its resolved version, marked
// DeclaredDirectly since it is a top-level dependency of n itself (as
// opposed to one pulled in transitively through some other package).
func buildReceipt(n resolver.Node, plan []resolver.Node, probe platform.Probe) *receipt.Receipt {
	var deps []receipt.RuntimeDependency
	if n.Formula != nil {
		for _, depName := range n.Formula.Dependencies {
			dep := findNode(plan, depName)
			if dep == nil || dep.Formula == nil {
				continue
			}
			deps = append(deps, receipt.RuntimeDependency{
				FullName:         dep.Name,
				Version:          dep.Formula.Versions.Stable,
				Revision:         dep.Formula.Revision,
				BottleRebuild:    dep.Formula.Bottle.Stable.Rebuild,
				PkgVersion:       dep.DesiredVersion,
				DeclaredDirectly: true,
			})
		}
	}

	stable := n.DesiredVersion
	if n.Formula != nil {
		stable = n.Formula.Versions.Stable
	}

	builtOn := receipt.BuiltOn{
		OS:        probe.OS,
		CPUFamily: platform.CPUFamily(probe.Arch),
	}
	if probe.OS == "darwin" {
		dt := platform.DetectDevTools()
		builtOn.Xcode = dt.Xcode
		builtOn.CLT = dt.CLT
	}

	return &receipt.Receipt{
		InstalledOnRequest:  n.DeclaredDirectly,
		InstalledAsDep:      !n.DeclaredDirectly,
		PouredFromBottle:    true,
		LoadedFromAPI:       true,
		RuntimeDependencies: deps,
		Source: receipt.Source{
			Spec:     "bottle",
			Versions: receipt.SourceVersions{Stable: stable},
		},
		Arch:    probe.Arch,
		Time:    time.Now().Unix(),
		BuiltOn: builtOn,
	}
}

func findNode(plan []resolver.Node, name string) *resolver.Node {
	for i := range plan {
		if plan[i].Name == name {
			return &plan[i]
		}
	}
	return nil
}
