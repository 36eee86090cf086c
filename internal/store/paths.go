package store

import "strings"

const sep = "/"

// ValidID reports whether id can be used as a path segment.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, sep) && id != "." && id != ".."
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, sep)
}

// Parent returns the collection path that contains path.
func Parent(path string) string {
	if i := strings.LastIndex(path, sep); i >= 0 {
		return path[:i]
	}
	return ""
}

// Base returns the last segment of path.
func Base(path string) string {
	if i := strings.LastIndex(path, sep); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Under reports whether path equals prefix or lies below it.
func Under(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+sep)
}

func SessionPath(sessionID string) string { return Join("sessions", sessionID) }

func HandRaisesPath(sessionID string) string { return Join("sessions", sessionID, "handRaises") }

func HandRaisePath(sessionID, participantID string) string {
	return Join(HandRaisesPath(sessionID), participantID)
}

func PollsPath(sessionID string) string { return Join("sessions", sessionID, "polls") }

func PollPath(sessionID, pollID string) string { return Join(PollsPath(sessionID), pollID) }

func VotersPath(sessionID, pollID string) string { return Join(PollPath(sessionID, pollID), "voters") }

func VoterPath(sessionID, pollID, participantID string) string {
	return Join(VotersPath(sessionID, pollID), participantID)
}

func QuestionsPath(sessionID string) string { return Join("sessions", sessionID, "questions") }

func QuestionPath(sessionID, questionID string) string {
	return Join(QuestionsPath(sessionID), questionID)
}

func ProgressPath(sessionID, participantID string) string {
	return Join("sessions", sessionID, "recordingProgress", participantID)
}

func RecordingStatsPath(sessionID string) string {
	return Join("sessions", sessionID, "recordingStats", "stats")
}
