package query

import (
	"errors"
	"strings"
	"testing"
	"time"

	"leadops/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cur := Cursor{Sort: SortCreatedDesc, Fields: []string{"2024-01-01T00:00:00Z"}, ID: "lead-1"}
	enc := EncodeCursor(cur)
	if enc == "" {
		t.Fatalf("expected encoded cursor")
	}
	dec, err := DecodeCursor(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Sort != cur.Sort || dec.ID != cur.ID || len(dec.Fields) != 1 || dec.Fields[0] != cur.Fields[0] {
		t.Fatalf("round trip mismatch: %+v", dec)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	cur, err := DecodeCursor("")
	if err != nil || cur != nil {
		t.Fatalf("empty cursor should be nil, nil; got %v, %v", cur, err)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, raw := range []string{"not base64 at all!!", "aGVsbG8", "eyJ9"} {
		if _, err := DecodeCursor(raw); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("cursor %q: expected ErrInvalidCursor, got %v", raw, err)
		}
	}
}

func TestParseSortDefaultsAndRejects(t *testing.T) {
	s, err := ParseSort("")
	if err != nil || s != SortCreatedDesc {
		t.Fatalf("empty sort: got %s, %v", s, err)
	}
	if _, err := ParseSort("alphabetical"); !errors.Is(err, ErrUnknownSort) {
		t.Fatalf("expected ErrUnknownSort, got %v", err)
	}
}

func TestCompileRejectsCursorSortMismatch(t *testing.T) {
	cur := &Cursor{Sort: SortCreatedDesc, Fields: []string{"2024-01-01T00:00:00Z"}, ID: "lead-1"}
	_, err := Compile("site-1", Filters{}, SortPriorityDesc, cur, 50, time.Now())
	if !errors.Is(err, ErrCursorSortMismatch) {
		t.Fatalf("expected ErrCursorSortMismatch, got %v", err)
	}
}

func TestCompileSiteScopeFirst(t *testing.T) {
	plan, err := Compile("site-1", Filters{Statuses: []string{"new"}}, SortCreatedDesc, nil, 50, time.Now())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.HasPrefix(plan.Where, "site_id=?") {
		t.Fatalf("site scope must lead the predicate list: %s", plan.Where)
	}
	if plan.Args[0] != "site-1" {
		t.Fatalf("first arg must be the site id: %v", plan.Args[0])
	}
}

func TestCompileSeekPredicate(t *testing.T) {
	cur := &Cursor{Sort: SortPriorityDesc, Fields: []string{"80", "2024-01-01T00:00:00Z"}, ID: "lead-9"}
	plan, err := Compile("site-1", Filters{}, SortPriorityDesc, cur, 50, time.Now())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(plan.Where, "(priority_score,created_at,id) < (?,?,?)") {
		t.Fatalf("expected row-value seek, got %s", plan.Where)
	}
	// Int-typed seek field binds as an integer.
	if got := plan.Args[len(plan.Args)-3]; got != int64(80) {
		t.Fatalf("expected int64 80, got %T %v", got, got)
	}
}

func TestCompileSeekRejectsBadIntField(t *testing.T) {
	cur := &Cursor{Sort: SortPriorityDesc, Fields: []string{"eighty", "2024-01-01T00:00:00Z"}, ID: "lead-9"}
	_, err := Compile("site-1", Filters{}, SortPriorityDesc, cur, 50, time.Now())
	if !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestCompileCountIgnoresCursor(t *testing.T) {
	now := time.Now()
	f := Filters{Statuses: []string{"new", "contacted"}}
	cur := &Cursor{Sort: SortCreatedDesc, Fields: []string{"2024-01-01T00:00:00Z"}, ID: "lead-1"}
	listPlan, err := Compile("site-1", f, SortCreatedDesc, cur, 50, now)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	countPlan := CompileCount("site-1", f, now)
	if strings.Contains(countPlan.Where, "(created_at,id)") {
		t.Fatalf("count plan must not contain a seek predicate: %s", countPlan.Where)
	}
	if len(countPlan.Args) >= len(listPlan.Args) {
		t.Fatalf("count plan should have fewer args than the cursored list plan")
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 50}, {-5, 50}, {1, 1}, {200, 200}, {201, 200}, {5000, 200},
	}
	for _, c := range cases {
		if got := ClampLimit(c.in); got != c.want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSearchClassifier(t *testing.T) {
	clause, arg := searchClause("Alice@Example.com ")
	if clause != "email_normalized=?" || arg != "alice@example.com" {
		t.Fatalf("email search: %s %v", clause, arg)
	}
	clause, arg = searchClause("+1 (555) 010-2030")
	if clause != "phone_normalized LIKE ?" || arg != "%15550102030%" {
		t.Fatalf("phone search: %s %v", clause, arg)
	}
	clause, arg = searchClause("  Bob   Jones ")
	if clause != "name_normalized LIKE ?" || arg != "%bob jones%" {
		t.Fatalf("name search: %s %v", clause, arg)
	}
	// Too few digits falls through to name matching.
	clause, _ = searchClause("411")
	if clause != "name_normalized LIKE ?" {
		t.Fatalf("short digits should search names: %s", clause)
	}
}

func TestNextCursorNullPrimaryTerminates(t *testing.T) {
	lead := domain.Lead{ID: "lead-1", CreatedAt: "2024-01-01T00:00:00Z"}
	if _, ok := NextCursor(SortNextActionAsc, lead); ok {
		t.Fatalf("null next_action_at must not mint a cursor")
	}
	next := "2024-02-01T00:00:00Z"
	lead.NextActionAt = &next
	cursor, ok := NextCursor(SortNextActionAsc, lead)
	if !ok || cursor == "" {
		t.Fatalf("expected cursor once primary field set")
	}
	dec, err := DecodeCursor(cursor)
	if err != nil || dec.Fields[0] != next || dec.ID != "lead-1" {
		t.Fatalf("minted cursor mismatch: %+v %v", dec, err)
	}
}

func TestNextCursorEstPremium(t *testing.T) {
	cents := int64(12345)
	lead := domain.Lead{ID: "lead-2", CreatedAt: "2024-01-01T00:00:00Z", EstMonthlyPremiumCents: &cents}
	cursor, ok := NextCursor(SortEstPremiumDesc, lead)
	if !ok {
		t.Fatalf("expected cursor")
	}
	dec, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Fields[0] != "12345" || dec.Fields[1] != lead.CreatedAt {
		t.Fatalf("unexpected fields: %v", dec.Fields)
	}
}

func TestDueWindowPredicates(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	plan := CompileCount("site-1", Filters{NextActionDue: DueOverdue}, now)
	if !strings.Contains(plan.Where, "next_action_at<?") {
		t.Fatalf("overdue predicate missing: %s", plan.Where)
	}
	plan = CompileCount("site-1", Filters{NextActionDue: DueToday}, now)
	if !strings.Contains(plan.Where, "next_action_at>=? AND next_action_at<?") {
		t.Fatalf("today window missing: %s", plan.Where)
	}
}

func TestArchivedScopes(t *testing.T) {
	now := time.Now()
	active := CompileCount("site-1", Filters{}, now)
	if !strings.Contains(active.Where, "archived_at IS NULL") {
		t.Fatalf("default scope must exclude archived: %s", active.Where)
	}
	only := CompileCount("site-1", Filters{Archived: ArchivedOnly}, now)
	if !strings.Contains(only.Where, "archived_at IS NOT NULL") {
		t.Fatalf("only scope: %s", only.Where)
	}
	anyScope := CompileCount("site-1", Filters{Archived: ArchivedAny}, now)
	if strings.Contains(anyScope.Where, "archived_at") {
		t.Fatalf("any scope must not constrain archived_at: %s", anyScope.Where)
	}
}

func TestNormalizers(t *testing.T) {
	if NormalizePhone("+1 (555) 010-2030") != "15550102030" {
		t.Fatalf("phone normalization")
	}
	if NormalizeName("  Bob   JONES ") != "bob jones" {
		t.Fatalf("name normalization")
	}
	if NormalizeEmail(" Alice@Example.COM ") != "alice@example.com" {
		t.Fatalf("email normalization")
	}
}
