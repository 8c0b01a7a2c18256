package ai

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"payflow.app/resolver/internal/model"
)

//go:embed policies/*.md
var policyFS embed.FS

// Policy is the guidance document handed to the agent for one issue type.
type Policy struct {
	Name     string
	Document string
}

type PolicyRegistry struct {
	policies map[model.IssueType]Policy
}

// NewPolicyRegistry loads the embedded policy document for every issue type.
// The policy name is read from the "(name)" suffix of the document title.
func NewPolicyRegistry() (*PolicyRegistry, error) {
	types := []model.IssueType{
		model.IssueTypeDecline,
		model.IssueTypeMissedInstallment,
		model.IssueTypeDispute,
		model.IssueTypeRefundRequest,
	}

	r := &PolicyRegistry{policies: make(map[model.IssueType]Policy, len(types))}
	for _, t := range types {
		raw, err := policyFS.ReadFile(path.Join("policies", string(t)+".md"))
		if err != nil {
			return nil, fmt.Errorf("loading policy for %s: %w", t, err)
		}
		doc := string(raw)
		r.policies[t] = Policy{Name: policyName(doc, string(t)), Document: doc}
	}
	return r, nil
}

func (r *PolicyRegistry) Get(t model.IssueType) (Policy, error) {
	p, ok := r.policies[t]
	if !ok {
		return Policy{}, fmt.Errorf("no policy for issue type %q", t)
	}
	return p, nil
}

func policyName(doc, fallback string) string {
	title, _, _ := strings.Cut(doc, "\n")
	open := strings.LastIndex(title, "(")
	end := strings.LastIndex(title, ")")
	if open < 0 || end <= open+1 {
		return fallback
	}
	return title[open+1 : end]
}
