package memory

import (
	"context"

	"github.com/rs/zerolog"

	"live-classroom-service/internal/domain"
)

// ResultLog is the default app.ResultSink: it writes final rankings to the log and keeps nothing.
type ResultLog struct {
	log zerolog.Logger
}

func NewResultLog(log zerolog.Logger) *ResultLog {
	return &ResultLog{log: log}
}

func (l *ResultLog) RecordResult(_ context.Context, result domain.Result) error {
	arr := zerolog.Arr()
	for _, entry := range result.Ranking {
		arr = arr.Dict(zerolog.Dict().
			Int("rank", entry.Rank).
			Str("name", entry.DisplayName).
			Int("score", entry.Score))
	}
	l.log.Info().
		Str("session", result.Code).
		Str("quiz", result.QuizID).
		Time("finished_at", result.FinishedAt).
		Array("ranking", arr).
		Msg("session result")
	return nil
}
