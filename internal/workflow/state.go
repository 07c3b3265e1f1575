// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workflow

import (
	"github.com/pdiddy/report-engine/pkg/types"
)

// State is the run state threaded between stages. Stages never mutate it;
// each returns an increment that produces the next State.
type State struct {
	Instruction types.Instruction
	Archive     types.RunArchive

	// Declared is the requested template; Template is the one in force.
	Declared string
	Template types.Template

	Index          types.SourceIndex
	Scout          types.ScoutPlan
	Clarifications []types.Clarification
	AlignScout     *types.AlignmentReport
	Plan           types.ReportPlan
	Supporting     []types.SourceRecord
	Claims         []types.Claim
	Gaps           types.GapReport
	Draft          types.Draft
	Loop           *types.LoopHistory
	AlignFinal     *types.AlignmentReport
	Rendered       []string

	// Unavailable lists stages skipped for a missing provider.
	Unavailable []types.StageName
}

// increment is one stage's committed output. Increments are serialized to
// state/<stage>.yaml so a resumed run can replay them.
type increment interface {
	apply(s State) State
}

type indexInc struct {
	Index types.SourceIndex `yaml:"index"`
}

func (i *indexInc) apply(s State) State { s.Index = i.Index; return s }

type scoutInc struct {
	Plan types.ScoutPlan `yaml:"plan"`
}

func (i *scoutInc) apply(s State) State { s.Scout = i.Plan; return s }

type clarifyInc struct {
	Clarifications []types.Clarification `yaml:"clarifications"`
}

func (i *clarifyInc) apply(s State) State {
	s.Clarifications = i.Clarifications
	s.Instruction = s.Instruction.WithClarifications(i.Clarifications)
	return s
}

type alignScoutInc struct {
	Report types.AlignmentReport `yaml:"report"`
}

func (i *alignScoutInc) apply(s State) State { r := i.Report; s.AlignScout = &r; return s }

type alignFinalInc struct {
	Report types.AlignmentReport `yaml:"report"`
}

func (i *alignFinalInc) apply(s State) State { r := i.Report; s.AlignFinal = &r; return s }

type templateInc struct {
	Template types.Template `yaml:"template"`
}

func (i *templateInc) apply(s State) State { s.Template = i.Template; return s }

type planInc struct {
	Plan types.ReportPlan `yaml:"plan"`
}

func (i *planInc) apply(s State) State { s.Plan = i.Plan; return s }

type fetchInc struct {
	Records []types.SourceRecord `yaml:"records"`
	Index   types.SourceIndex    `yaml:"index"`
}

func (i *fetchInc) apply(s State) State {
	s.Supporting = i.Records
	s.Index = i.Index
	return s
}

type evidenceInc struct {
	Claims []types.Claim    `yaml:"claims"`
	Gaps   types.GapReport  `yaml:"gaps"`
	Plan   types.ReportPlan `yaml:"plan"`
}

func (i *evidenceInc) apply(s State) State {
	s.Claims = i.Claims
	s.Gaps = i.Gaps
	s.Plan = i.Plan
	return s
}

type draftInc struct {
	Draft types.Draft `yaml:"draft"`
}

func (i *draftInc) apply(s State) State { s.Draft = i.Draft; return s }

type loopInc struct {
	Best    types.Draft       `yaml:"best"`
	History types.LoopHistory `yaml:"history"`
}

func (i *loopInc) apply(s State) State {
	s.Draft = i.Best
	h := i.History
	s.Loop = &h
	return s
}

type renderInc struct {
	Keys []string `yaml:"keys"`
}

func (i *renderInc) apply(s State) State { s.Rendered = i.Keys; return s }
