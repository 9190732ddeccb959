package workflow

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// positionTitleKey is the synthetic field key for Actor.PositionTitle.
const positionTitleKey = "positiontitle"

// reservedOperationCodes are identifier values that always mean operation
// manager. They are checked before any pattern so that titles overlapping
// with branch-manager wording cannot capture them.
var reservedOperationCodes = map[string]bool{
	"OM":                        true,
	"AOM":                       true,
	"OPM":                       true,
	"OPSM":                      true,
	"OPERATIONMANAGER":          true,
	"OPERATIONSMANAGER":         true,
	"ASSISTANTOPERATIONMANAGER": true,
}

var operationPhrase = regexp.MustCompile(`\b((assistant|asst) )?operations? manager\b|\bops? manager\b`)

// rolePatterns are evaluated pattern by pattern, each against every field.
var rolePatterns = []struct {
	re   *regexp.Regexp
	role RoleKind
}{
	{regexp.MustCompile(`\bloss prevention\b`), RoleChecker},
	{regexp.MustCompile(`\blp\b`), RoleChecker},
	{regexp.MustCompile(`\bchecker\b`), RoleChecker},
	{regexp.MustCompile(`\b((assistant|asst) )?branch manager\b`), RoleBranchManager},
	{regexp.MustCompile(`\ba?bm\b`), RoleBranchManager},
	{regexp.MustCompile(`\bbranch head\b`), RoleBranchManager},
	{regexp.MustCompile(`\baccount(s|ant|ing)?\b`), RoleAccount},
	{regexp.MustCompile(`\backnowledg`), RoleAccount},
	{regexp.MustCompile(`\bissuer\b`), RoleAccount},
	{regexp.MustCompile(`\bfinance\b`), RoleAccount},
	{regexp.MustCompile(`\bsupervisor\b`), RoleSupervisor},
	{regexp.MustCompile(`\bprepar(er|ed)?\b`), RolePreparer},
	{regexp.MustCompile(`\brequester\b`), RolePreparer},
	{regexp.MustCompile(`\bstaff\b`), RolePreparer},
}

// roleIDs is the legacy numeric role table.
var roleIDs = map[int]RoleKind{
	1: RolePreparer,
	2: RoleChecker,
	3: RoleBranchManager,
	4: RoleOperationManager,
	5: RoleAccount,
	6: RoleSupervisor,
}

type roleField struct {
	key      string // compacted lower-case key
	value    string // normalized value
	freeText bool
	ident    bool
}

type roleRule struct {
	name  string
	match func(fields []roleField) RoleKind
}

// RoleResolver maps an actor profile to a RoleKind using an ordered list of
// rules; the first rule that yields a role wins.
type RoleResolver struct {
	rules []roleRule
}

// NewRoleResolver returns a resolver with the standard precedence:
// reserved operation codes, operation manager phrase, role patterns, numeric
// role id.
func NewRoleResolver() *RoleResolver {
	return &RoleResolver{rules: []roleRule{
		{name: "reserved_code", match: matchReservedCode},
		{name: "operation_phrase", match: matchOperationPhrase},
		{name: "pattern", match: matchPatterns},
		{name: "role_id", match: matchRoleID},
	}}
}

// Resolve returns the actor's role, or RoleUnknown when nothing matches.
func (r *RoleResolver) Resolve(actor Actor) RoleKind {
	role, _ := r.Explain(actor)
	return role
}

// Explain is Resolve that also names the rule that decided.
func (r *RoleResolver) Explain(actor Actor) (RoleKind, string) {
	fields := collectFields(actor)
	if len(fields) == 0 {
		return RoleUnknown, ""
	}
	for _, rule := range r.rules {
		if role := rule.match(fields); role != RoleUnknown {
			return role, rule.name
		}
	}
	return RoleUnknown, ""
}

func matchReservedCode(fields []roleField) RoleKind {
	for _, f := range fields {
		if f.ident && reservedOperationCodes[compactUpper(f.value)] {
			return RoleOperationManager
		}
	}
	return RoleUnknown
}

func matchOperationPhrase(fields []roleField) RoleKind {
	// only position and designation text may name the operation manager
	for _, f := range fields {
		if f.key != positionTitleKey && !f.freeText {
			continue
		}
		if operationPhrase.MatchString(f.value) {
			return RoleOperationManager
		}
	}
	return RoleUnknown
}

func matchPatterns(fields []roleField) RoleKind {
	for _, p := range rolePatterns {
		for _, f := range fields {
			if isNumeric(f.value) {
				continue
			}
			if p.re.MatchString(f.value) {
				return p.role
			}
		}
	}
	return RoleUnknown
}

func matchRoleID(fields []roleField) RoleKind {
	for _, f := range fields {
		if !strings.Contains(f.key, "roleid") && !strings.Contains(f.key, "level") {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(f.value, " ", ""))
		if err != nil {
			continue
		}
		if role, ok := roleIDs[n]; ok {
			return role
		}
	}
	return RoleUnknown
}

// collectFields normalizes the actor's role fields into a deterministic
// order: free-text fields first, then identifier fields, then the rest,
// ties broken by key.
func collectFields(actor Actor) []roleField {
	fields := make([]roleField, 0, len(actor.RawRoleFields)+1)
	if v := normalizeText(actor.PositionTitle); v != "" {
		fields = append(fields, roleField{key: positionTitleKey, value: v, freeText: true})
	}
	for k, raw := range actor.RawRoleFields {
		v := normalizeText(raw)
		if v == "" {
			continue
		}
		key := strings.ToLower(compactUpper(k))
		fields = append(fields, roleField{
			key:      key,
			value:    v,
			freeText: isFreeTextKey(key),
			ident:    isIdentifierKey(key),
		})
	}

	sort.SliceStable(fields, func(i, j int) bool {
		ci, cj := fieldClass(fields[i]), fieldClass(fields[j])
		if ci != cj {
			return ci < cj
		}
		return fields[i].key < fields[j].key
	})
	return fields
}

func fieldClass(f roleField) int {
	switch {
	case f.key == positionTitleKey:
		return 0
	case f.freeText:
		return 1
	case f.ident:
		return 2
	default:
		return 3
	}
}

func isFreeTextKey(key string) bool {
	for _, k := range []string{"position", "designation", "title", "job", "desc"} {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

func isIdentifierKey(key string) bool {
	for _, k := range []string{"type", "code", "role", "id", "level"} {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// normalizeText applies NFKC and case folding, turns every run of
// non-alphanumerics into one space, and trims.
func normalizeText(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

func compactUpper(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKC.String(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != ' ' {
			return false
		}
	}
	return true
}
