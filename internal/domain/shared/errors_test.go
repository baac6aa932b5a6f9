package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection reset")

	assert.Equal(t, KindInternal, KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(cause))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("load: %w", ErrStreakNotFound)))
	assert.Equal(t, KindUnavailable, KindOf(Wrap("postgres.Store", KindUnavailable, "query failed", cause)))

	// An unclassified wrapper does not hide the classification underneath.
	inner := Wrap("ledger.Insert", KindConflict, "insert failed", cause)
	assert.True(t, IsConflict(Wrap("postgres.Store", KindInternal, "commit failed", inner)))
}

func TestError_Format(t *testing.T) {
	assert.Equal(t, "streak.Find: learning streak not found", ErrStreakNotFound.Error())

	err := Wrap("sqlite.Store", KindInternal, "commit failed", errors.New("disk I/O error"))
	assert.EqualError(t, err, "sqlite.Store: commit failed: disk I/O error")
	assert.Nil(t, Wrap("sqlite.Store", KindInternal, "commit failed", nil))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsValidation(ErrInvalidLimit))
	assert.True(t, IsNotFound(ErrCompletionNotFound))
	assert.True(t, errors.Is(fmt.Errorf("x: %w", ErrCompletionNotFound), ErrCompletionNotFound))
	assert.False(t, IsNotFound(ErrCompletionConflict))
	assert.False(t, IsAlreadyExists(ErrForeignStudent))
	assert.Equal(t, "conflict", KindConflict.String())
}

func TestNewStudentID(t *testing.T) {
	id, err := NewStudentID("  alice.42@campus ")
	assert.NoError(t, err)
	assert.Equal(t, StudentID("alice.42@campus"), id)

	for _, bad := range []string{"", " ", "-leading", "has space"} {
		_, err := NewStudentID(bad)
		assert.ErrorIs(t, err, ErrInvalidStudentID, bad)
	}
}
