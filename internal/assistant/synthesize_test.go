package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSynthesizeStripsCodeFences(t *testing.T) {
	prov := &stubProvider{chatFn: func(_ context.Context, _, _ string) (string, error) {
		return "```sql\nSELECT full_name FROM students LIMIT 10\n```", nil
	}}
	s := NewSynthesizer(prov)

	got, err := s.Synthesize(context.Background(), "who is enrolled?", &SchemaSnapshot{Tables: studentsSchema()}, "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.SQL != "SELECT full_name FROM students LIMIT 10" {
		t.Fatalf("Synthesize() = %q", got.SQL)
	}
}

func TestSynthesizePromptCarriesSchemaAndQuestion(t *testing.T) {
	var gotSystem, gotUser string
	prov := &stubProvider{chatFn: func(_ context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return "SELECT 1", nil
	}}
	s := NewSynthesizer(prov)

	_, err := s.Synthesize(context.Background(), "average attendance for Ada?", &SchemaSnapshot{Tables: studentsSchema()}, "")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !strings.Contains(gotSystem, "single SELECT query") {
		t.Fatalf("system instructions missing SELECT constraint:\n%s", gotSystem)
	}
	if !strings.Contains(gotUser, "TABLE students") {
		t.Fatalf("user prompt missing schema:\n%s", gotUser)
	}
	if !strings.Contains(gotUser, "average attendance for Ada?") {
		t.Fatalf("user prompt missing question:\n%s", gotUser)
	}
	if strings.Contains(gotUser, "previous SQL failed") {
		t.Fatalf("first attempt must not carry error feedback:\n%s", gotUser)
	}
}

func TestSynthesizeRetryCarriesErrorFeedback(t *testing.T) {
	var gotUser string
	prov := &stubProvider{chatFn: func(_ context.Context, _, user string) (string, error) {
		gotUser = user
		return "SELECT 1", nil
	}}
	s := NewSynthesizer(prov)

	_, err := s.Synthesize(context.Background(), "q", &SchemaSnapshot{Tables: studentsSchema()}, `column "scor" does not exist`)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !strings.Contains(gotUser, "The previous SQL failed with error:") {
		t.Fatalf("retry prompt missing feedback preamble:\n%s", gotUser)
	}
	if !strings.Contains(gotUser, `column "scor" does not exist`) {
		t.Fatalf("retry prompt missing execution error:\n%s", gotUser)
	}
}

func TestSynthesizeEmptyModelOutput(t *testing.T) {
	prov := &stubProvider{chatFn: func(_ context.Context, _, _ string) (string, error) {
		return "``` ```", nil
	}}
	s := NewSynthesizer(prov)

	_, err := s.Synthesize(context.Background(), "q", &SchemaSnapshot{}, "")
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesis", err)
	}
}
