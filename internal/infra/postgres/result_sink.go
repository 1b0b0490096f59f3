package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"live-classroom-service/internal/domain"
)

// sessionResult is one ranking line of a finished session.
type sessionResult struct {
	bun.BaseModel `bun:"table:session_results"`

	Code          string    `bun:"code,pk"`
	Rank          int       `bun:"rank,pk"`
	QuizID        string    `bun:"quiz_id,notnull"`
	ParticipantID string    `bun:"participant_id,notnull"`
	DisplayName   string    `bun:"display_name,notnull"`
	Score         int       `bun:"score,notnull"`
	FinishedAt    time.Time `bun:"finished_at,notnull"`
}

// ResultSink persists final rankings for the progress/completion consumers.
type ResultSink struct {
	db *bun.DB
}

func NewResultSink(db *bun.DB) *ResultSink {
	return &ResultSink{db: db}
}

func (s *ResultSink) RecordResult(ctx context.Context, result domain.Result) error {
	if len(result.Ranking) == 0 {
		return nil
	}
	rows := make([]sessionResult, 0, len(result.Ranking))
	for _, entry := range result.Ranking {
		rows = append(rows, sessionResult{
			Code:          result.Code,
			Rank:          entry.Rank,
			QuizID:        result.QuizID,
			ParticipantID: entry.ParticipantID,
			DisplayName:   entry.DisplayName,
			Score:         entry.Score,
			FinishedAt:    result.FinishedAt,
		})
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (code, rank) DO UPDATE").
		Set("participant_id = EXCLUDED.participant_id").
		Set("display_name = EXCLUDED.display_name").
		Set("score = EXCLUDED.score").
		Set("finished_at = EXCLUDED.finished_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert session results: %w", err)
	}
	return nil
}

// Ranking reads back the stored ranking of a session, best first.
func (s *ResultSink) Ranking(ctx context.Context, code string) ([]domain.RankingEntry, error) {
	var rows []sessionResult
	if err := s.db.NewSelect().Model(&rows).Where("code = ?", code).Order("rank ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select session results: %w", err)
	}
	out := make([]domain.RankingEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RankingEntry{
			Rank:          row.Rank,
			ParticipantID: row.ParticipantID,
			DisplayName:   row.DisplayName,
			Score:         row.Score,
		})
	}
	return out, nil
}
