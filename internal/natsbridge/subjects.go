package natsbridge

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/epoptis/internal/messaging"
)

// Subject patterns for the swarm mirror.

// SubjectSwarmAll matches every mirrored envelope.
const SubjectSwarmAll = "epoptis.swarm.>"

// SubjectSwarm is the subject one envelope is mirrored on.
func SubjectSwarm(taskID string, t messaging.Type) string {
	return fmt.Sprintf("epoptis.swarm.%s.%s", subjectToken(taskID), subjectToken(string(t)))
}

// SubjectTask matches every mirrored envelope of one task.
func SubjectTask(taskID string) string {
	return fmt.Sprintf("epoptis.swarm.%s.>", subjectToken(taskID))
}

// subjectToken sanitizes a value for use as a single NATS subject
// token. Task ids come from API callers and may carry separator
// characters.
func subjectToken(v string) string {
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '*', '>':
			return '-'
		}
		return r
	}, v)
}
