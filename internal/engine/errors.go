package engine

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/uiblocks/internal/script/compiler"
	"github.com/GriffinCanCode/uiblocks/internal/script/lexer"
	"github.com/GriffinCanCode/uiblocks/internal/script/parser"
)

// Stage names the pipeline step a fragment failed in.
type Stage int

const (
	StageExtraction Stage = iota
	StageLex
	StageParse
	StageCompile
	StageRuntime
	StageCapabilityTimeout
	StageCapabilityUnavailable
)

var stageNames = [...]string{
	StageExtraction:            "extraction",
	StageLex:                   "lex",
	StageParse:                 "parse",
	StageCompile:               "compile",
	StageRuntime:               "runtime",
	StageCapabilityTimeout:     "capability timeout",
	StageCapabilityUnavailable: "capability unavailable",
}

var stageLabels = [...]string{
	StageExtraction:            "extraction",
	StageLex:                   "lex",
	StageParse:                 "parse",
	StageCompile:               "compile",
	StageRuntime:               "runtime",
	StageCapabilityTimeout:     "capability_timeout",
	StageCapabilityUnavailable: "capability_unavailable",
}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Label is the metric label for the stage.
func (s Stage) Label() string {
	if int(s) < len(stageLabels) {
		return stageLabels[s]
	}
	return "unknown"
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(text []byte) error {
	for i, name := range stageNames {
		if name == string(text) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}

// FragmentError is reported for every fragment that could not run to
// completion. It never stops the session or its siblings.
type FragmentError struct {
	SessionID  string
	FragmentID string
	Stage      Stage
	Msg        string
	Err        error
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("%s error: %s", e.Stage, e.Msg)
}

func (e *FragmentError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a FragmentError raised in stage.
func IsStage(err error, stage Stage) bool {
	var fe *FragmentError
	return errors.As(err, &fe) && fe.Stage == stage
}

// classify maps a front-end error onto its stage.
func classify(err error) Stage {
	var (
		lexErr     *lexer.Error
		parseErr   *parser.Error
		compileErr *compiler.Error
	)
	switch {
	case errors.As(err, &lexErr):
		return StageLex
	case errors.As(err, &parseErr):
		return StageParse
	case errors.As(err, &compileErr):
		return StageCompile
	}
	return StageCompile
}
