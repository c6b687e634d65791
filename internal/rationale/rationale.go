// Package rationale validates the free-text justifications attached to M3
// impact records. Rationales are advisory: the validator rejects language
// that claims certainty or resolution and requires hedged phrasing grounded
// in alignment, evidence and constraint context.
package rationale

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/roach88/programhealth/internal/ir"
)

// DefaultMaxLength is the maximum rationale length in characters.
const DefaultMaxLength = 420

// Rule identifies one contract rule.
type Rule string

const (
	RuleLength      Rule = "length"
	RuleForbidden   Rule = "forbidden_language"
	RuleConditional Rule = "conditional"
	RuleAlignment   Rule = "alignment"
	RuleEvidence    Rule = "evidence"
	RuleConstraint  Rule = "constraint"
	RuleTemporal    Rule = "temporal"
)

// Violation is one failed rule.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

// Options tunes validation.
type Options struct {
	RequireTemporal bool
	MaxLength       int // <= 0 means DefaultMaxLength
}

// Result is the outcome of Validate.
type Result struct {
	OK         bool        `json:"ok"`
	Errors     []string    `json:"errors"`
	Violations []Violation `json:"violations"`
}

// Patterns run against case-folded text.
var (
	forbiddenPattern = regexp.MustCompile(`\b(fix|fixes|fixed|solve|solves|solved|resolve|resolves|resolved|guarantee|guarantees|guaranteed|ensure|ensures|ensured|will provide|locks in|lock in|covers completely|completely covers|eliminates|definitely|certainly)\b`)

	requiredGroups = []struct {
		rule    Rule
		pattern *regexp.Regexp
		message string
	}{
		{
			RuleConditional,
			regexp.MustCompile(`\b(could|may|might|(is|are) likely to|can pressure)\b`),
			"must use conditional or advisory phrasing (could, may, might, is likely to)",
		},
		{
			RuleAlignment,
			regexp.MustCompile(`\b(alignment|aligned|aligns|capability|capabilities|event[- ]groups?|primary|secondary)\b`),
			"must reference structural alignment (alignment, capability, event group, primary or secondary)",
		},
		{
			RuleEvidence,
			regexp.MustCompile(`\b(performances?|marks?|results?|trajectory|verified|notes|ratings?|benchmarks?)\b`),
			"must reference plausibility evidence (performance, marks, results, trajectory, verified, notes, ratings or benchmarks)",
		},
		{
			RuleConstraint,
			regexp.MustCompile(`\b(coverage|redundancy|authority|certification|certified)\b`),
			"must reference constraint context (coverage, redundancy, authority or certification)",
		},
	}

	temporalPattern = regexp.MustCompile(`\b(h[0-3]|this season|next season|next cycle|(near|mid|long)[- ]term|enrollment|availability)\b`)
)

// Validate checks text against the rationale contract. Every rule is
// evaluated; the length and forbidden-language rules each add at most one
// error.
func Validate(text string, opts Options) Result {
	maxLen := opts.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	var violations []Violation
	add := func(rule Rule, msg string) {
		violations = append(violations, Violation{Rule: rule, Message: msg})
	}

	if n := utf8.RuneCountInString(text); n > maxLen {
		add(RuleLength, fmt.Sprintf("rationale is %d characters, exceeds maximum of %d", n, maxLen))
	}

	folded := cases.Fold().String(text)

	if terms := forbiddenTerms(folded); len(terms) > 0 {
		add(RuleForbidden, fmt.Sprintf("rationale contains certainty or resolution language: %s", strings.Join(terms, ", ")))
	}

	for _, g := range requiredGroups {
		if !g.pattern.MatchString(folded) {
			add(g.rule, "rationale "+g.message)
		}
	}

	if opts.RequireTemporal && !temporalPattern.MatchString(folded) {
		add(RuleTemporal, "rationale must include a temporal cue (horizon code, this season, next cycle, near/mid/long-term, enrollment or availability)")
	}

	errs := make([]string, 0, len(violations))
	for _, v := range violations {
		errs = append(errs, v.Message)
	}
	if violations == nil {
		violations = []Violation{}
	}
	return Result{OK: len(violations) == 0, Errors: errs, Violations: violations}
}

// forbiddenTerms returns the distinct forbidden terms in order of appearance.
func forbiddenTerms(folded string) []string {
	matches := forbiddenPattern.FindAllString(folded, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// AssertValidM3Rationale returns a RATIONALE_CONTRACT_VIOLATION carrying every
// failed rule when text does not satisfy the contract.
func AssertValidM3Rationale(text string, opts Options) error {
	res := Validate(text, opts)
	if res.OK {
		return nil
	}
	return &ir.KernelError{
		Code:    ir.ErrCodeRationaleContract,
		Op:      "assertValidM3Rationale",
		Message: strings.Join(res.Errors, "; "),
		Details: res.Errors,
	}
}
