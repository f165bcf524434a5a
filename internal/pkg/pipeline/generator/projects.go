// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package generator

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/internal/pkg/buildcontext"
	"github.com/elastic/ci-orchestrator/internal/pkg/pipeline"
	bk "github.com/elastic/ci-orchestrator/pkg/buildkite/pipeline"
	"github.com/elastic/ci-orchestrator/pkg/core/logger"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
	"github.com/elastic/ci-orchestrator/pkg/core/retry"
)

const (
	// CategoryMandatory groups the steps run on every build.
	CategoryMandatory = "mandatory"
	// CategoryExtended groups the steps run on demand.
	CategoryExtended = "extended"

	awsInstanceType = "t4g.large"

	// TriggerCommentPrefix starts the pull request comments selecting
	// projects and steps, "buildkite test filebeat unitTest".
	TriggerCommentPrefix = "buildkite test"

	defaultProjectsFile = ".buildkite/buildkite.yml"
	projectFileName     = "buildkite.yml"
	changesetAttempts   = 3
)

// ProjectsConfig configures the built-in project generator.
type ProjectsConfig struct {
	// Root is the repository checkout. Default is the working directory.
	Root string `config:"root"`
	// File lists the projects, relative to Root.
	File string `config:"file"`
	// Git is the git executable used to compute the pull request changeset.
	Git string `config:"git"`
}

type projectsFile struct {
	Projects []string `yaml:"projects"`
}

type stageSpec struct {
	Command  string `yaml:"command"`
	Platform string `yaml:"platform"`
	Provider string `yaml:"provider"`
}

type projectSpec struct {
	When struct {
		Changeset []string `yaml:"changeset"`
	} `yaml:"when"`
	Stages struct {
		Mandatory map[string]stageSpec `yaml:"mandatory"`
		Extended  map[string]stageSpec `yaml:"extended"`
	} `yaml:"stages"`
}

type step struct {
	project  string
	category string
	name     string
	stage    stageSpec
}

type group struct {
	project  string
	category string
	steps    []step
}

// Projects generates one group of steps per project and category from the
// buildkite.yml file of every project listed in the root file. On pull
// requests only the projects touched by the changeset, or selected by the
// trigger comment and labels, are built.
type Projects struct {
	log     *logger.Logger
	cfg     ProjectsConfig
	retrier *retry.Executor
}

// NewProjects creates the project generator.
func NewProjects(log *logger.Logger, cfg ProjectsConfig, retrier *retry.Executor) *Projects {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.File == "" {
		cfg.File = defaultProjectsFile
	}
	if cfg.Git == "" {
		cfg.Git = "git"
	}
	if retrier == nil {
		retrier = retry.New(nil)
	}
	return &Projects{log: log, cfg: cfg, retrier: retrier}
}

// Generate implements pipeline.Generator. Mandatory groups come first, then
// extended groups, each sorted by project. Steps are sorted by name.
func (p *Projects) Generate(ctx context.Context, req pipeline.Request) (pipeline.Fragment, error) {
	listPath := filepath.Join(p.cfg.Root, p.cfg.File)
	var list projectsFile
	if err := readYAML(listPath, &list); err != nil {
		return pipeline.Fragment{}, err
	}

	specs, err := p.loadProjects(ctx, list.Projects)
	if err != nil {
		return pipeline.Fragment{}, err
	}

	bctx := req.Build
	changeset := p.changeset(ctx, bctx)

	var mandatory, extended []group
	for i, name := range list.Projects {
		spec := specs[i]
		if spec == nil {
			p.log.Debugw("Skipping project without pipeline file", "project", name)
			continue
		}

		for _, category := range []string{CategoryMandatory, CategoryExtended} {
			stages := spec.Stages.Mandatory
			if category == CategoryExtended {
				stages = spec.Stages.Extended
			}
			g, err := buildGroup(name, category, stages, bctx)
			if err != nil {
				return pipeline.Fragment{}, err
			}
			enabled, err := groupEnabled(g, spec.When.Changeset, bctx, changeset)
			if err != nil {
				return pipeline.Fragment{}, err
			}
			if !enabled || len(g.steps) == 0 {
				continue
			}
			if category == CategoryMandatory {
				mandatory = append(mandatory, g)
			} else {
				extended = append(extended, g)
			}
		}
	}

	byProject := func(groups []group) func(i, j int) bool {
		return func(i, j int) bool { return groups[i].project < groups[j].project }
	}
	sort.SliceStable(mandatory, byProject(mandatory))
	sort.SliceStable(extended, byProject(extended))

	var frag pipeline.Fragment
	for _, g := range append(mandatory, extended...) {
		for _, s := range g.steps {
			spec, err := s.spec(g)
			if err != nil {
				return pipeline.Fragment{}, err
			}
			frag.Steps = append(frag.Steps, spec)
		}
	}
	p.log.Infow("Generated project pipeline", "groups.mandatory", len(mandatory), "groups.extended", len(extended), "steps", len(frag.Steps))
	return frag, nil
}

// loadProjects reads the project files concurrently. The result keeps the
// order of names, missing files are nil.
func (p *Projects) loadProjects(ctx context.Context, names []string) ([]*projectSpec, error) {
	specs := make([]*projectSpec, len(names))
	g, _ := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			path := filepath.Join(p.cfg.Root, name, projectFileName)
			var spec projectSpec
			if err := readYAML(path, &spec); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			specs[i] = &spec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return specs, nil
}

// changeset returns a function computing the files changed by the pull
// request at most once.
func (p *Projects) changeset(ctx context.Context, bctx buildcontext.Context) func() ([]string, error) {
	var (
		once  sync.Once
		files []string
		err   error
	)
	return func() ([]string, error) {
		once.Do(func() {
			files, err = p.diff(ctx, bctx)
		})
		return files, err
	}
}

func (p *Projects) diff(ctx context.Context, bctx buildcontext.Context) ([]string, error) {
	base := ""
	if bctx.PullRequest != nil {
		base = bctx.PullRequest.BaseBranch
	}
	if base == "" {
		return nil, errors.New("pull request base branch is unknown", errors.TypeConfig, errors.M(errors.MetaKeyPipeline, bctx.PipelineSlug))
	}
	out, err := p.retrier.RunWithRetry(ctx, process.Command{
		Path: p.cfg.Git,
		Args: []string{"diff", "--name-only", base + "...HEAD"},
		Dir:  p.cfg.Root,
	}, changesetAttempts)
	if err != nil {
		return nil, errors.New(err, "failed to compute the pull request changeset", errors.M(errors.MetaKeyOutput, string(out.Stderr)))
	}
	files := strings.FieldsFunc(string(out.Stdout), func(r rune) bool { return r == '\n' || r == '\r' })
	p.log.Infow("Pull request changeset", "base", base, "files", len(files))
	return files, nil
}

func buildGroup(project, category string, stages map[string]stageSpec, bctx buildcontext.Context) (group, error) {
	g := group{project: project, category: category}
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := step{project: project, category: category, name: name, stage: stages[name]}
		if s.stage.Command == "" {
			return group{}, errors.New(fmt.Sprintf("stage %q of project %q has no command", name, project), errors.TypeConfig)
		}
		if stepEnabled(s, bctx) {
			g.steps = append(g.steps, s)
		}
	}
	return g, nil
}

func stepEnabled(s step, bctx buildcontext.Context) bool {
	if !bctx.IsPullRequest() {
		return true
	}
	pr := bctx.PullRequest
	if stepComment(s, pr.TriggerComment) {
		return true
	}
	return pr.HasLabel(s.project + "-" + s.name)
}

// stepComment reports whether the trigger comment selects the step. Without
// comment every step is selected.
func stepComment(s step, comment string) bool {
	if comment == "" {
		return true
	}
	prefix := TriggerCommentPrefix + " " + s.project
	if s.category == CategoryMandatory && comment == prefix {
		return true
	}
	return strings.Contains(comment, prefix+" "+s.name)
}

func groupEnabled(g group, changesetFilters []string, bctx buildcontext.Context, changeset func() ([]string, error)) (bool, error) {
	if !bctx.IsPullRequest() {
		return true, nil
	}
	if strings.HasPrefix(g.category, CategoryMandatory) && len(changesetFilters) > 0 {
		files, err := changeset()
		if err != nil {
			return false, err
		}
		matched, err := matchAny(files, changesetFilters)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return groupComment(g, bctx.PullRequest.TriggerComment), nil
}

// groupComment reports whether the trigger comment selects the group,
// "buildkite test filebeat" for mandatory and "buildkite test filebeat
// extended" for extended.
func groupComment(g group, comment string) bool {
	if comment == "" {
		return false
	}
	want := TriggerCommentPrefix + " " + g.project
	if g.category != CategoryMandatory {
		want += " " + g.category
	}
	return strings.Contains(comment, want)
}

func matchAny(files []string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return false, errors.New(err, fmt.Sprintf("invalid changeset pattern %q", pattern), errors.TypeConfig)
		}
		for _, f := range files {
			if g.Match(f) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s step) spec(g group) (pipeline.StepSpec, error) {
	agents, err := agentFor(s.stage)
	if err != nil {
		return pipeline.StepSpec{}, errors.New(err, errors.M(errors.MetaKeyStep, s.project+" "+s.name))
	}
	return pipeline.StepSpec{
		Key:      stepKey(s.project, s.category, s.name),
		Label:    s.project + " " + s.name,
		Command:  s.stage.Command,
		Agents:   agents,
		Notify:   []string{s.project + ": " + s.name},
		Group:    g.project + " " + g.category,
		GroupKey: stepKey(g.project, g.category),
	}, nil
}

func agentFor(s stageSpec) (map[string]string, error) {
	switch s.Provider {
	case "", bk.ProviderGCP:
		return bk.GCPAgent(s.Platform), nil
	case bk.ProviderAWS:
		return bk.AWSAgent(s.Platform, awsInstanceType), nil
	case bk.ProviderOrka:
		return bk.OrkaAgent(s.Platform), nil
	default:
		return nil, errors.New(fmt.Sprintf("unknown agent provider %q", s.Provider), errors.TypeConfig)
	}
}

// stepKey joins parts with dashes. Path separators of nested projects such
// as x-pack/filebeat are not valid in keys.
func stepKey(parts ...string) string {
	return strings.ReplaceAll(strings.Join(parts, "-"), "/", "-")
}

func readYAML(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err, "failed to read pipeline file", errors.TypeFilesystem, errors.M(errors.MetaKeyPath, path))
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return errors.New(err, "invalid pipeline file", errors.TypeConfig, errors.M(errors.MetaKeyPath, path))
	}
	return nil
}
