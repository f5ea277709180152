// Package scoring holds the pure correctness check shared by the session
// state machine and the competition coordinator.
package scoring

import "agile-quiz-service/internal/domain"

// PointsPerCorrect is the fixed award for a correct competition answer.
// Decay by answer speed is intentionally not implemented.
const PointsPerCorrect = 10

// Correct reports whether the selected option index answers the question.
func Correct(q domain.Question, selected int) bool {
	if selected < 0 || selected >= len(q.Options) {
		return false
	}
	return selected == q.CorrectOption
}

// Percentage computes the rounded score invariant: round(100*correct/total).
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (correct*100 + total/2) / total
}
