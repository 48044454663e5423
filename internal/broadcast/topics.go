package broadcast

import (
	"strings"

	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// Topic prefixes.
const (
	prefixEvent       = "event:"
	prefixRole        = "role:"
	prefixDepartment  = "department:"
	prefixParticipant = "participant:"
)

// EventTopic is the topic of everything that happens to one event.
func EventTopic(eventID string) string { return prefixEvent + eventID }

// RoleTopic is the topic shared by every session of a role.
func RoleTopic(role model.Role) string { return prefixRole + string(role) }

// DepartmentTopic is the topic shared by every session of a department.
func DepartmentTopic(department string) string {
	return prefixDepartment + strings.ToLower(strings.TrimSpace(department))
}

// ParticipantTopic reaches every session of one participant.
func ParticipantTopic(participantID string) string { return prefixParticipant + participantID }

// IdentityTopics returns the topics a session joins on connect.
func IdentityTopics(id model.Identity) []string {
	topics := []string{RoleTopic(id.Role), ParticipantTopic(id.ParticipantID)}
	if strings.TrimSpace(id.Department) != "" {
		topics = append(topics, DepartmentTopic(id.Department))
	}
	return topics
}

// StaffTopics are the role topics of coordinators and admins.
func StaffTopics() []string {
	return []string{RoleTopic(model.RoleFaculty), RoleTopic(model.RoleAdmin)}
}

// AllRoleTopics returns one topic per role.
func AllRoleTopics() []string {
	topics := make([]string, 0, len(model.Roles))
	for _, r := range model.Roles {
		topics = append(topics, RoleTopic(r))
	}
	return topics
}

// EventID extracts the event id from an event topic.
func EventID(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, prefixEvent)
	return id, ok && id != ""
}

// Subscribable reports whether a client may join topic on request.
// Only event topics are client-selectable; identity topics are assigned
// on connect so a client cannot listen in on another role or participant.
func Subscribable(topic string) bool {
	_, ok := EventID(topic)
	return ok
}
