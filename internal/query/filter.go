package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leadops/internal/domain"
)

// Sort identifies one of the fixed lead orderings. Every sort is a total
// order: the primary column plus tie-breakers ending in id.
type Sort string

const (
	SortCreatedDesc      Sort = "created_at_desc"
	SortPriorityDesc     Sort = "priority_desc"
	SortLastActivityDesc Sort = "last_activity_desc"
	SortNextActionAsc    Sort = "next_action_asc"
	SortEstPremiumDesc   Sort = "est_premium_desc"
)

var (
	ErrUnknownSort        = errors.New("unknown sort key")
	ErrCursorSortMismatch = errors.New("cursor does not match sort")
)

type colKind int

const (
	colText colKind = iota
	colInt
)

type seekCol struct {
	name string
	kind colKind
}

type sortSpec struct {
	// seek columns in order; the trailing id column is implied.
	cols            []seekCol
	orderBy         string
	asc             bool
	nullablePrimary bool
}

var sortSpecs = map[Sort]sortSpec{
	SortCreatedDesc: {
		cols:    []seekCol{{"created_at", colText}},
		orderBy: "created_at DESC, id DESC",
	},
	SortPriorityDesc: {
		cols:    []seekCol{{"priority_score", colInt}, {"created_at", colText}},
		orderBy: "priority_score DESC, created_at DESC, id DESC",
	},
	SortLastActivityDesc: {
		cols:            []seekCol{{"last_activity_at", colText}, {"created_at", colText}},
		orderBy:         "last_activity_at DESC NULLS LAST, created_at DESC, id DESC",
		nullablePrimary: true,
	},
	SortNextActionAsc: {
		cols:            []seekCol{{"next_action_at", colText}},
		orderBy:         "next_action_at ASC NULLS LAST, id ASC",
		asc:             true,
		nullablePrimary: true,
	},
	SortEstPremiumDesc: {
		cols:            []seekCol{{"est_monthly_premium_cents", colInt}, {"created_at", colText}},
		orderBy:         "est_monthly_premium_cents DESC NULLS LAST, created_at DESC, id DESC",
		nullablePrimary: true,
	},
}

// ParseSort validates a sort key; empty defaults to created_at_desc.
func ParseSort(raw string) (Sort, error) {
	if raw == "" {
		return SortCreatedDesc, nil
	}
	s := Sort(raw)
	if _, ok := sortSpecs[s]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSort, raw)
	}
	return s, nil
}

// Archived is the tri-state archive filter. The zero value scopes to active
// leads only.
type Archived int

const (
	ArchivedActive Archived = iota
	ArchivedOnly
	ArchivedAny
)

// NextActionDue filters leads by their follow-up deadline.
type NextActionDue string

const (
	DueAny       NextActionDue = "any"
	DueOverdue   NextActionDue = "overdue"
	DueToday     NextActionDue = "today"
	DueNext7Days NextActionDue = "next_7_days"
)

// Filters is the validated, tagged query structure. Zero values mean "no
// predicate"; nothing here is interpolated into SQL text.
type Filters struct {
	Search      string
	Statuses    []string
	SubStatuses []string
	Types       []string
	Regions     []string

	PriorityMin *int
	PriorityMax *int

	CreatedFrom string
	CreatedTo   string

	NextActionDue NextActionDue
	Archived      Archived
}

// Plan is an immutable compiled query: predicate list (site scope always
// first), ordering, and a bounded limit. Where/Args cover the WHERE clause
// only; the repo supplies SELECT and LIMIT framing.
type Plan struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

// ClampLimit bounds a requested page size to [1,200], defaulting to 50.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// Compile builds the list plan for one page. The cursor, when present, must
// have been minted under the same sort key; mismatch fails before any query
// runs. now anchors the next_action_due window predicates.
func Compile(siteID string, f Filters, sort Sort, cur *Cursor, limit int, now time.Time) (Plan, error) {
	spec, ok := sortSpecs[sort]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownSort, sort)
	}
	if cur != nil && cur.Sort != sort {
		return Plan{}, fmt.Errorf("%w: cursor %s, requested %s", ErrCursorSortMismatch, cur.Sort, sort)
	}

	clauses, args := filterClauses(siteID, f, now)

	if cur != nil {
		seek, seekArgs, err := seekPredicate(spec, cur)
		if err != nil {
			return Plan{}, err
		}
		clauses = append(clauses, seek)
		args = append(args, seekArgs...)
	}

	return Plan{
		Where:   strings.Join(clauses, " AND "),
		Args:    args,
		OrderBy: spec.orderBy,
		Limit:   ClampLimit(limit),
	}, nil
}

// CompileCount builds the count plan from the filter predicates alone. It is
// constructed independently of any list plan so a cursor can never leak into
// the total.
func CompileCount(siteID string, f Filters, now time.Time) Plan {
	clauses, args := filterClauses(siteID, f, now)
	return Plan{Where: strings.Join(clauses, " AND "), Args: args}
}

func filterClauses(siteID string, f Filters, now time.Time) ([]string, []any) {
	// Site scope comes first and is unconditional.
	clauses := []string{"site_id=?"}
	args := []any{siteID}

	switch f.Archived {
	case ArchivedActive:
		clauses = append(clauses, "archived_at IS NULL")
	case ArchivedOnly:
		clauses = append(clauses, "archived_at IS NOT NULL")
	}

	for _, set := range []struct {
		col    string
		values []string
	}{
		{"status", f.Statuses},
		{"sub_status", f.SubStatuses},
		{"type", f.Types},
		{"region", f.Regions},
	} {
		if len(set.values) == 0 {
			continue
		}
		clauses = append(clauses, set.col+" IN ("+placeholders(len(set.values))+")")
		for _, v := range set.values {
			args = append(args, v)
		}
	}

	if f.PriorityMin != nil {
		clauses = append(clauses, "priority_score>=?")
		args = append(args, *f.PriorityMin)
	}
	if f.PriorityMax != nil {
		clauses = append(clauses, "priority_score<=?")
		args = append(args, *f.PriorityMax)
	}

	if f.CreatedFrom != "" {
		clauses = append(clauses, "created_at>=?")
		args = append(args, f.CreatedFrom)
	}
	if f.CreatedTo != "" {
		clauses = append(clauses, "created_at<?")
		args = append(args, f.CreatedTo)
	}

	if f.NextActionDue != "" {
		nowStr := now.UTC().Format(time.RFC3339)
		dayStart := now.UTC().Truncate(24 * time.Hour)
		switch f.NextActionDue {
		case DueAny:
			clauses = append(clauses, "next_action_at IS NOT NULL")
		case DueOverdue:
			clauses = append(clauses, "next_action_at IS NOT NULL AND next_action_at<?")
			args = append(args, nowStr)
		case DueToday:
			clauses = append(clauses, "next_action_at>=? AND next_action_at<?")
			args = append(args, dayStart.Format(time.RFC3339), dayStart.Add(24*time.Hour).Format(time.RFC3339))
		case DueNext7Days:
			clauses = append(clauses, "next_action_at>=? AND next_action_at<?")
			args = append(args, nowStr, now.UTC().Add(7*24*time.Hour).Format(time.RFC3339))
		}
	}

	if search := strings.TrimSpace(f.Search); search != "" {
		clause, arg := searchClause(search)
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	return clauses, args
}

// searchClause classifies the query token: email-shaped input matches the
// normalized email exactly, phone-shaped input (>=7 digits) matches the
// normalized phone as a substring, anything else matches the normalized name
// as a substring.
func searchClause(search string) (string, any) {
	if strings.Contains(search, "@") {
		return "email_normalized=?", NormalizeEmail(search)
	}
	if looksLikePhone(search) {
		return "phone_normalized LIKE ?", "%" + NormalizePhone(search) + "%"
	}
	return "name_normalized LIKE ?", "%" + NormalizeName(search) + "%"
}

func looksLikePhone(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '(' || r == ')' || r == '-' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 7
}

// seekPredicate builds the strict row-value comparison that excludes the
// cursor row and everything before it in the chosen order.
func seekPredicate(spec sortSpec, cur *Cursor) (string, []any, error) {
	if len(cur.Fields) != len(spec.cols) {
		return "", nil, ErrInvalidCursor
	}
	names := make([]string, 0, len(spec.cols)+1)
	args := make([]any, 0, len(spec.cols)+1)
	for i, col := range spec.cols {
		names = append(names, col.name)
		switch col.kind {
		case colInt:
			n, err := strconv.ParseInt(cur.Fields[i], 10, 64)
			if err != nil {
				return "", nil, ErrInvalidCursor
			}
			args = append(args, n)
		default:
			args = append(args, cur.Fields[i])
		}
	}
	names = append(names, "id")
	args = append(args, cur.ID)

	op := "<"
	if spec.asc {
		op = ">"
	}
	clause := "(" + strings.Join(names, ",") + ") " + op + " (" + placeholders(len(names)) + ")"
	return clause, args, nil
}

// NextCursor mints the cursor for the page following lastRow, or ok=false
// when the sort's primary field is null on that row. In that case pagination
// terminates instead of risking a seek against null.
func NextCursor(sort Sort, lastRow domain.Lead) (string, bool) {
	spec, ok := sortSpecs[sort]
	if !ok {
		return "", false
	}
	fields := make([]string, 0, len(spec.cols))
	for i, col := range spec.cols {
		v, present := leadSortField(lastRow, col.name)
		if !present {
			if i == 0 && spec.nullablePrimary {
				return "", false
			}
			return "", false
		}
		fields = append(fields, v)
	}
	return EncodeCursor(Cursor{Sort: sort, Fields: fields, ID: lastRow.ID}), true
}

func leadSortField(l domain.Lead, col string) (string, bool) {
	switch col {
	case "created_at":
		return l.CreatedAt, true
	case "priority_score":
		return strconv.Itoa(l.PriorityScore), true
	case "last_activity_at":
		if l.LastActivityAt == nil {
			return "", false
		}
		return *l.LastActivityAt, true
	case "next_action_at":
		if l.NextActionAt == nil {
			return "", false
		}
		return *l.NextActionAt, true
	case "est_monthly_premium_cents":
		if l.EstMonthlyPremiumCents == nil {
			return "", false
		}
		return strconv.FormatInt(*l.EstMonthlyPremiumCents, 10), true
	}
	return "", false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// NormalizeEmail lowercases and trims an email for exact matching.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone strips everything but digits.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeName lowercases and collapses surrounding whitespace.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
