package domain

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type fakeStore struct {
	projects  map[string]Project
	members   map[string]map[string]MemberRole
	tasks     map[string]Task
	users     map[string]User
	whitelist map[string]WhitelistEntry
	waitlist  map[string]int
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  map[string]Project{},
		members:   map[string]map[string]MemberRole{},
		tasks:     map[string]Task{},
		users:     map[string]User{},
		whitelist: map[string]WhitelistEntry{},
		waitlist:  map[string]int{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *fakeStore) CreateProject(ctx context.Context, in NewProject, ownerID string) (*Project, error) {
	now := time.Now()
	p := Project{ID: f.nextID("p"), Title: in.Title, Description: in.Description,
		GithubRepoID: in.GithubRepoID, GithubRepoName: in.GithubRepoName, CreatedAt: now, UpdatedAt: now}
	f.projects[p.ID] = p
	f.members[p.ID] = map[string]MemberRole{ownerID: RoleOwner}
	return &p, nil
}

func (f *fakeStore) FindProjectByRepo(ctx context.Context, repoID string) (*Project, error) {
	for _, p := range f.projects {
		if p.GithubRepoID != nil && *p.GithubRepoID == repoID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	p, ok := f.projects[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	var out []Project
	for id, m := range f.members {
		if _, ok := m[userID]; ok {
			out = append(out, f.projects[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	var out []Member
	for uid, role := range f.members[projectID] {
		out = append(out, Member{UserID: uid, ProjectID: projectID, Role: role})
	}
	return out, nil
}

func (f *fakeStore) IsMember(ctx context.Context, userID, projectID string) (bool, error) {
	_, ok := f.members[projectID][userID]
	return ok, nil
}

func (f *fakeStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	var out []Task
	for _, t := range f.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) partition(projectID string, status Status, skip string) []Slot {
	var out []Slot
	for _, t := range f.tasks {
		if t.ProjectID == projectID && t.Status == status && t.ID != skip {
			out = append(out, Slot{ID: t.ID, Order: t.Order})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (f *fakeStore) CreateTask(ctx context.Context, projectID string, in NewTask) (*Task, error) {
	max, ok := 0, false
	for _, s := range f.partition(projectID, in.Status, "") {
		if !ok || s.Order > max {
			max, ok = s.Order, true
		}
	}
	id := f.nextID("t")
	order, fits := NextOrder(max, ok)
	if !fits {
		p, err := Place(f.partition(projectID, in.Status, ""), id, "", "")
		if err != nil {
			return nil, err
		}
		for _, s := range p.Renumbered {
			other := f.tasks[s.ID]
			other.Order = s.Order
			f.tasks[s.ID] = other
		}
		order = p.Order
	}
	now := time.Now()
	t := Task{ID: id, Title: in.Title, Description: in.Description, Status: in.Status,
		Order: order, Priority: in.Priority, Tags: in.Tags, ProjectID: projectID,
		CreatedAt: now, UpdatedAt: now}
	f.tasks[t.ID] = t
	return &t, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, taskID string, upd TaskUpdate) (*Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	upd.Apply(&t)
	f.tasks[taskID] = t
	return &t, nil
}

func (f *fakeStore) MoveTask(ctx context.Context, taskID string, mv MoveRequest) (*Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	p, err := Place(f.partition(t.ProjectID, mv.Status, taskID), taskID, mv.AfterID, mv.BeforeID)
	if err != nil {
		return nil, err
	}
	for _, s := range p.Renumbered {
		other := f.tasks[s.ID]
		other.Order = s.Order
		f.tasks[s.ID] = other
	}
	t.Status = mv.Status
	t.Order = p.Order
	f.tasks[taskID] = t
	return &t, nil
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (f *fakeStore) FindUserByGitHubID(ctx context.Context, githubID int64) (*User, error) {
	for _, u := range f.users {
		if u.GithubID == githubID {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) CreateUser(ctx context.Context, u *User) error {
	u.ID = f.nextID("u")
	f.users[u.ID] = *u
	return nil
}

func (f *fakeStore) UpdateUserLogin(ctx context.Context, u *User) error {
	f.users[u.ID] = *u
	return nil
}

func (f *fakeStore) IsWhitelisted(ctx context.Context, email string) (bool, error) {
	_, ok := f.whitelist[email]
	return ok, nil
}

func (f *fakeStore) ListWhitelist(ctx context.Context) ([]WhitelistEntry, error) {
	var out []WhitelistEntry
	for _, e := range f.whitelist {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) AddWhitelist(ctx context.Context, email string) (*WhitelistEntry, error) {
	if e, ok := f.whitelist[email]; ok {
		return &e, nil
	}
	e := WhitelistEntry{ID: f.nextID("w"), Email: email, CreatedAt: time.Now()}
	f.whitelist[email] = e
	return &e, nil
}

func (f *fakeStore) RemoveWhitelist(ctx context.Context, email string) error {
	if _, ok := f.whitelist[email]; !ok {
		return ErrNotFound
	}
	delete(f.whitelist, email)
	return nil
}

func (f *fakeStore) UpsertWaitlist(ctx context.Context, email string) error {
	f.waitlist[email]++
	return nil
}

func (f *fakeStore) ListWaitlist(ctx context.Context) ([]WaitlistEntry, error) {
	out := make([]WaitlistEntry, 0, len(f.waitlist))
	for email := range f.waitlist {
		out = append(out, WaitlistEntry{Email: email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

type recordingPublisher struct{ events []BoardEvent }

func (r *recordingPublisher) Publish(ctx context.Context, ev BoardEvent) {
	r.events = append(r.events, ev)
}
