package shared

import (
	"regexp"
	"strings"
)

// StudentID identifies a student. Identifiers come from the surrounding
// platform (UUIDs, numeric ids or logins), so only the character set is checked.
type StudentID string

var studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// NewStudentID trims id and rejects it unless it matches the allowed shape.
func NewStudentID(id string) (StudentID, error) {
	sid := StudentID(strings.TrimSpace(id))
	if !sid.IsValid() {
		return "", ErrInvalidStudentID
	}
	return sid, nil
}

func (s StudentID) IsValid() bool  { return studentIDPattern.MatchString(string(s)) }
func (s StudentID) IsEmpty() bool  { return s == "" }
func (s StudentID) String() string { return string(s) }
