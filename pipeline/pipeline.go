package alpineami_pipeline

import (
	"fmt"
	"strings"

	wzlib_logger "github.com/infra-whizz/wzlib/logger"
)

// Stage of the provisioning. Requires and Provides name the capabilities
// that order the stages.
type Stage interface {
	Name() string
	Requires() []string
	Provides() []string
	Execute(bc *BuildContext) error
}

// StageError wraps the first failure of a run
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Err.Error())
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type stage struct {
	name     string
	requires []string
	provides []string
	action   func(bc *BuildContext) error
}

// NewStage from an action
func NewStage(name string, requires []string, provides []string, action func(bc *BuildContext) error) Stage {
	return &stage{name: name, requires: requires, provides: provides, action: action}
}

func (s *stage) Name() string {
	return s.name
}

func (s *stage) Requires() []string {
	return s.requires
}

func (s *stage) Provides() []string {
	return s.provides
}

func (s *stage) Execute(bc *BuildContext) error {
	return s.action(bc)
}

// Pipeline runs the stages once, in order
type Pipeline struct {
	stages   []Stage
	executed []string

	wzlib_logger.WzLogger
}

// NewPipeline refuses a stage list where something is required before it is provided
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	provided := map[string]string{}
	names := map[string]bool{}
	for _, s := range stages {
		if names[s.Name()] {
			return nil, fmt.Errorf("stage %s is listed twice", s.Name())
		}
		names[s.Name()] = true

		for _, r := range s.Requires() {
			if _, ok := provided[r]; !ok {
				return nil, fmt.Errorf("stage %s requires %s, which no earlier stage provides", s.Name(), r)
			}
		}
		for _, p := range s.Provides() {
			if by, ok := provided[p]; ok {
				return nil, fmt.Errorf("%s is provided by both %s and %s", p, by, s.Name())
			}
			provided[p] = s.Name()
		}
	}

	p := new(Pipeline)
	p.stages = stages
	p.executed = []string{}
	return p, nil
}

// Executed stage names of the last run
func (p *Pipeline) Executed() []string {
	return append([]string{}, p.executed...)
}

// Run the stages. The first failure stops the run, the build context is
// torn down on every exit path.
func (p *Pipeline) Run(bc *BuildContext) (err error) {
	p.executed = []string{}
	defer func() {
		if terr := bc.Teardown(); terr != nil {
			if err == nil {
				err = fmt.Errorf("cleanup failed: %w", terr)
			} else {
				p.GetLogger().Errorf("Cleanup after failure: %s", terr.Error())
			}
		}
	}()

	for idx, s := range p.stages {
		p.GetLogger().Infof("[%d/%d] %s", idx+1, len(p.stages), s.Name())
		if len(s.Requires()) > 0 {
			p.GetLogger().Debugf("Stage %s requires: %s", s.Name(), strings.Join(s.Requires(), ", "))
		}
		if err := s.Execute(bc); err != nil {
			return &StageError{Stage: s.Name(), Err: err}
		}
		p.executed = append(p.executed, s.Name())
	}

	return nil
}
