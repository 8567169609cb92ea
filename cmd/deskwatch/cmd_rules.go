package main

import (
	"fmt"

	"deskwatch/internal/rules"

	"github.com/spf13/cobra"
)

// rulesCmd groups rule store commands.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and grow the rule store",
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged rules for --role and --company",
	Args:  cobra.NoArgs,
	RunE:  runRulesShow,
}

var rulesLearnCmd = &cobra.Command{
	Use:   "learn <term>",
	Short: "Classify one term with the model and append it as a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesLearn,
}

// mergedView is the JSON shape of rules show.
type mergedView struct {
	Role       string              `json:"role"`
	Company    string              `json:"company,omitempty"`
	Sources    []string            `json:"sources"`
	Allowed    []rules.Rule        `json:"allowed"`
	Prohibited []rules.Rule        `json:"prohibited"`
	Legacy     []map[string]string `json:"legacy,omitempty"`
	AppendsTo  string              `json:"appends_to"`
}

func runRulesShow(cmd *cobra.Command, _ []string) error {
	e, err := setup(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer e.close()

	merged, err := e.store.Load(role, company)
	if err != nil {
		return err
	}
	view := mergedView{
		Role:       role,
		Company:    company,
		Sources:    merged.Sources,
		Allowed:    merged.Allowed,
		Prohibited: merged.Prohibited,
		AppendsTo:  e.store.Path(role, company),
	}
	if view.Sources == nil {
		view.Sources = []string{}
	}
	if view.Allowed == nil {
		view.Allowed = []rules.Rule{}
	}
	if view.Prohibited == nil {
		view.Prohibited = []rules.Rule{}
	}
	for _, row := range merged.Legacy {
		m := make(map[string]string, len(row))
		for _, f := range row {
			m[f.Key] = f.Value
		}
		view.Legacy = append(view.Legacy, m)
	}
	return writeJSON(view, "", cmd.OutOrStdout())
}

// learnedView is the JSON shape of rules learn.
type learnedView struct {
	Rule rules.Rule `json:"rule"`
	Path string     `json:"path"`
}

func runRulesLearn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer e.close()

	rule, path, err := e.learner.LearnUnknown(ctx, args[0], role, company)
	if err != nil {
		return fmt.Errorf("learning %q: %w", args[0], err)
	}
	return writeJSON(learnedView{Rule: rule, Path: path}, "", cmd.OutOrStdout())
}
