package domain

import (
	"strings"
	"time"
)

// MemberRole is the role a user holds inside a project.
type MemberRole string

const (
	RoleOwner  MemberRole = "OWNER"
	RoleMember MemberRole = "MEMBER"
)

type Project struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	GithubRepoID   *string   `json:"githubRepoId"`
	GithubRepoName *string   `json:"githubRepoName"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Member links a user to a project. User is populated on project detail reads.
type Member struct {
	UserID    string       `json:"userId"`
	ProjectID string       `json:"projectId"`
	Role      MemberRole   `json:"role"`
	User      *UserProfile `json:"user,omitempty"`
}

// ProjectDetail is a project with its members and its tasks sorted by order.
type ProjectDetail struct {
	Project
	Members []Member `json:"members"`
	Tasks   []Task   `json:"tasks"`
}

type NewProject struct {
	Title          string  `json:"title"`
	Description    *string `json:"description,omitempty"`
	GithubRepoID   *string `json:"githubRepoId,omitempty"`
	GithubRepoName *string `json:"githubRepoName,omitempty"`
}

// Normalize trims the input and checks that a repository link is complete.
func (n *NewProject) Normalize() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	n.GithubRepoID = trimmedOrNil(n.GithubRepoID)
	n.GithubRepoName = trimmedOrNil(n.GithubRepoName)
	if (n.GithubRepoID == nil) != (n.GithubRepoName == nil) {
		return &ValidationError{Field: "githubRepoId", Reason: "and githubRepoName must be provided together"}
	}
	return nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
