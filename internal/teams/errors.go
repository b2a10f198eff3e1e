package teams

import "errors"

var (
	// ErrTeamNotFound means the team id has no record.
	ErrTeamNotFound = errors.New("team not found")

	// ErrLevelMismatch means a conditional advance matched no row: the
	// team's current level differed from the expected one (stale or
	// duplicate submit, or a concurrent advance won the race).
	ErrLevelMismatch = errors.New("level mismatch")

	// ErrPenaltyDebounced means the conditional penalty write matched no
	// row because another violation was recorded within the debounce
	// window (or the team stopped being active) between read and write.
	ErrPenaltyDebounced = errors.New("penalty debounced")
)
