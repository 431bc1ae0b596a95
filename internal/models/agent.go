package models

import (
	"strings"
	"time"
)

// AgentStatus is an agent's presence in the directory.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
	AgentBreak   AgentStatus = "break"
	AgentOffline AgentStatus = "offline"
)

// StatusRank orders presence for candidate selection: online before busy,
// everything else unreachable.
func (s AgentStatus) StatusRank() int {
	switch s {
	case AgentOnline:
		return 0
	case AgentBusy:
		return 1
	case AgentBreak:
		return 2
	}
	return 3
}

// Reachable reports whether the agent can take new sessions.
func (s AgentStatus) Reachable() bool {
	return s == AgentOnline || s == AgentBusy
}

// AgentSkill is one skill category with optional keyword tags, stored
// comma-joined for the relational backend.
type AgentSkill struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	AgentID  string `gorm:"index" json:"-"`
	Category string `json:"category"`
	Tags     string `json:"tags"`
}

// TagList splits the comma-joined tags, lowercased and trimmed.
func (s AgentSkill) TagList() []string {
	var out []string
	for _, t := range strings.Split(s.Tags, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Agent is a human support agent in the directory roster.
type Agent struct {
	ID           string       `gorm:"primaryKey" json:"id"`
	Name         string       `json:"name"`
	Status       AgentStatus  `gorm:"default:offline" json:"status"`
	MaxSessions  int          `gorm:"default:5" json:"max_sessions"`
	LastActiveAt time.Time    `json:"last_active_at"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Skills       []AgentSkill `gorm:"foreignKey:AgentID" json:"skills"`
}

// SkillTags collects the agent's skill categories and tags as a lowercase set.
func (a *Agent) SkillTags() map[string]bool {
	tags := make(map[string]bool)
	for _, skill := range a.Skills {
		if c := strings.ToLower(strings.TrimSpace(skill.Category)); c != "" {
			tags[c] = true
		}
		for _, t := range skill.TagList() {
			tags[t] = true
		}
	}
	return tags
}
