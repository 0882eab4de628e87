package assistant

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateRejectsMutatingKeywords(t *testing.T) {
	cases := []string{
		"DELETE FROM students",
		"SELECT 1; DROP TABLE students",
		"update grades set score = 100",
		"SELECT * FROM students WHERE full_name = 'x'; TRUNCATE grades",
		"WITH doomed AS (DELETE FROM grades RETURNING *) SELECT * FROM doomed",
		"Insert Into students VALUES (1)",
		"GRANT ALL ON students TO public",
	}
	for _, sql := range cases {
		_, err := Validate(CandidateQuery{SQL: sql})
		if !errors.Is(err, ErrUnsafeQuery) {
			t.Fatalf("Validate(%q) error = %v, want ErrUnsafeQuery", sql, err)
		}
	}
}

func TestValidateKeywordSubstringsAreSafe(t *testing.T) {
	// Column names that merely contain a mutating keyword must pass.
	v, err := Validate(CandidateQuery{SQL: "SELECT updated_at, created_at FROM students LIMIT 5"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if v.String() != "SELECT updated_at, created_at FROM students LIMIT 5" {
		t.Fatalf("statement rewritten unexpectedly: %q", v.String())
	}
}

func TestValidateRequiresSelectPrefix(t *testing.T) {
	for _, sql := range []string{"EXPLAIN SELECT 1", "SHOW TABLES", "; SELECT 1"} {
		_, err := Validate(CandidateQuery{SQL: sql})
		if !errors.Is(err, ErrUnsafeQuery) {
			t.Fatalf("Validate(%q) error = %v, want ErrUnsafeQuery", sql, err)
		}
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	_, err := Validate(CandidateQuery{SQL: "SELECT 1; SELECT 2;"})
	if !errors.Is(err, ErrUnsafeQuery) {
		t.Fatalf("Validate() error = %v, want ErrUnsafeQuery", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	for _, sql := range []string{"", "   \n\t"} {
		_, err := Validate(CandidateQuery{SQL: sql})
		if !errors.Is(err, ErrUnsafeQuery) {
			t.Fatalf("Validate(%q) error = %v, want ErrUnsafeQuery", sql, err)
		}
	}
}

func TestValidateAppendsRowCap(t *testing.T) {
	v, err := Validate(CandidateQuery{SQL: "SELECT full_name FROM students ORDER BY full_name;"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := "SELECT full_name FROM students ORDER BY full_name LIMIT 200;"
	if v.String() != want {
		t.Fatalf("Validate() = %q, want %q", v.String(), want)
	}
}

func TestValidateKeepsExistingLimit(t *testing.T) {
	sql := "SELECT full_name FROM students LIMIT 25"
	v, err := Validate(CandidateQuery{SQL: sql})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if v.String() != sql {
		t.Fatalf("Validate() = %q, want unchanged %q", v.String(), sql)
	}
	if strings.Count(v.String(), "LIMIT") != 1 {
		t.Fatalf("duplicate LIMIT in %q", v.String())
	}
}
