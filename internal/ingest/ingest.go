package ingest

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/provider"
)

// Source tags for content addressing. A chunk is identified by (text, source),
// so re-running ingestion only writes chunks that do not exist yet.
const (
	SourceAssessmentResult = "assessment_result"
	SourceDailyAttendance  = "daily_attendance"
	SourceGradeSummary     = "grade_summary"
)

// Chunk is one evidence unit awaiting embedding and storage.
type Chunk struct {
	Text     string
	Source   string
	Metadata map[string]interface{}
}

// Ingestor generates evidence chunks from the domain tables, embeds them and
// stores them idempotently in the chunk table.
type Ingestor struct {
	st         *store.Store
	llm        provider.Provider
	table      string
	embedBatch int
	logger     *log.Logger
}

func New(st *store.Store, llm provider.Provider, table string, embedBatch int) *Ingestor {
	if embedBatch <= 0 {
		embedBatch = 64
	}
	return &Ingestor{
		st:         st,
		llm:        llm,
		table:      table,
		embedBatch: embedBatch,
		logger:     log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Run generates all chunk kinds and stores the ones not already present.
func (i *Ingestor) Run(ctx context.Context) (inserted, skipped int, err error) {
	start := time.Now()
	chunks, err := i.generate(ctx)
	if err != nil {
		return 0, 0, err
	}
	i.logger.Printf("generated %d candidate chunks", len(chunks))

	for batchStart := 0; batchStart < len(chunks); batchStart += i.embedBatch {
		end := batchStart + i.embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}
		vecs, err := i.llm.CreateEmbedding(ctx, texts)
		if err != nil {
			return inserted, skipped, fmt.Errorf("embed batch: %w", err)
		}
		if len(vecs) != len(batch) {
			return inserted, skipped, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(batch))
		}
		for j, c := range batch {
			vec, ok := normalize(vecs[j])
			if !ok {
				skipped++
				continue
			}
			wrote, err := i.st.InsertChunk(ctx, i.table, c.Text, c.Source, c.Metadata, vec)
			if err != nil {
				return inserted, skipped, fmt.Errorf("insert chunk: %w", err)
			}
			if wrote {
				inserted++
			} else {
				skipped++
			}
		}
	}
	i.logger.Printf("ingestion done in %s: %d inserted, %d skipped", time.Since(start).Round(time.Millisecond), inserted, skipped)
	return inserted, skipped, nil
}

func (i *Ingestor) generate(ctx context.Context) ([]Chunk, error) {
	var chunks []Chunk
	assessment, err := i.assessmentChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("assessment chunks: %w", err)
	}
	chunks = append(chunks, assessment...)

	attendance, err := i.attendanceChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("attendance chunks: %w", err)
	}
	chunks = append(chunks, attendance...)

	summaries, err := i.gradeSummaryChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("grade summary chunks: %w", err)
	}
	chunks = append(chunks, summaries...)
	return chunks, nil
}

// assessmentChunks renders one chunk per graded assessment.
func (i *Ingestor) assessmentChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := i.st.ExecuteReadOnly(ctx, `
SELECT s.full_name, b.bootcamp_name, u.unit_title,
       a.assessment_title, g.score, a.max_score, a.weight, a.due_date,
       s.student_id, u.unit_id, b.bootcamp_id
FROM grades g
JOIN assessments a ON g.assessment_id = a.assessment_id
JOIN units u ON a.unit_id = u.unit_id
JOIN students s ON g.student_id = s.student_id
JOIN bootcamps b ON s.bootcamp_id = b.bootcamp_id
ORDER BY s.student_id, a.due_date LIMIT 100000`, 30*time.Second, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(rows))
	for _, r := range rows {
		text := fmt.Sprintf("%v scored %v out of %v in %q (%v weighting) for the %q unit of the %q bootcamp, due on %v.",
			r["full_name"], r["score"], r["max_score"], r["assessment_title"], r["weight"], r["unit_title"], r["bootcamp_name"], r["due_date"])
		out = append(out, Chunk{
			Text:   text,
			Source: SourceAssessmentResult,
			Metadata: map[string]interface{}{
				"student":    r["full_name"],
				"unit":       r["unit_title"],
				"bootcamp":   r["bootcamp_name"],
				"assessment": r["assessment_title"],
				"student_id": r["student_id"],
				"unit_id":    r["unit_id"],
			},
		})
	}
	return out, nil
}

// attendanceChunks renders one chunk per daily attendance record.
func (i *Ingestor) attendanceChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := i.st.ExecuteReadOnly(ctx, `
SELECT s.full_name, b.bootcamp_name, u.unit_title, a.status, a.date,
       s.student_id, u.unit_id, b.bootcamp_id
FROM attendance a
JOIN students s ON a.student_id = s.student_id
JOIN units u ON a.unit_id = u.unit_id
JOIN bootcamps b ON s.bootcamp_id = b.bootcamp_id
ORDER BY s.student_id, a.date LIMIT 100000`, 30*time.Second, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(rows))
	for _, r := range rows {
		text := fmt.Sprintf("%v was %v on %v during the %q unit of the %q bootcamp.",
			r["full_name"], r["status"], r["date"], r["unit_title"], r["bootcamp_name"])
		out = append(out, Chunk{
			Text:   text,
			Source: SourceDailyAttendance,
			Metadata: map[string]interface{}{
				"student":    r["full_name"],
				"unit":       r["unit_title"],
				"bootcamp":   r["bootcamp_name"],
				"status":     r["status"],
				"date":       fmt.Sprint(r["date"]),
				"student_id": r["student_id"],
			},
		})
	}
	return out, nil
}

// gradeSummaryChunks renders one chunk per (student, bootcamp, unit) score list.
func (i *Ingestor) gradeSummaryChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := i.st.ExecuteReadOnly(ctx, `
SELECT s.full_name, b.bootcamp_name, u.unit_title,
       string_agg(g.score::text, ', ' ORDER BY g.score) AS scores,
       s.student_id, b.bootcamp_id
FROM grades g
JOIN assessments a ON g.assessment_id = a.assessment_id
JOIN units u ON a.unit_id = u.unit_id
JOIN students s ON g.student_id = s.student_id
JOIN bootcamps b ON s.bootcamp_id = b.bootcamp_id
GROUP BY s.full_name, b.bootcamp_name, u.unit_title, s.student_id, b.bootcamp_id
LIMIT 100000`, 30*time.Second, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(rows))
	for _, r := range rows {
		text := fmt.Sprintf("%v's scores in the %q unit of the %q bootcamp: %v.",
			r["full_name"], r["unit_title"], r["bootcamp_name"], r["scores"])
		out = append(out, Chunk{
			Text:   text,
			Source: SourceGradeSummary,
			Metadata: map[string]interface{}{
				"student":    r["full_name"],
				"unit":       r["unit_title"],
				"bootcamp":   r["bootcamp_name"],
				"student_id": r["student_id"],
			},
		})
	}
	return out, nil
}

// normalize scales a vector to unit norm; zero vectors are unusable.
func normalize(vec []float32) ([]float32, bool) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, false
	}
	inv := 1.0 / math.Sqrt(norm)
	out := make([]float32, len(vec))
	for j, v := range vec {
		out[j] = float32(float64(v) * inv)
	}
	return out, true
}
