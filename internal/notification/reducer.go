// Package notification keeps the applicant's alert list and delivers alerts by email and SMS.
package notification

import "admissions-portal/internal/models"

// MaxItems bounds the list; the oldest alerts fall off first.
const MaxItems = 50

// State is the alert list, newest first.
type State struct {
	Items  []models.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

// Command is one of Add, MarkRead, MarkAllRead, Remove or Clear.
type Command interface {
	command()
}

type Add struct{ Notification models.Notification }

type MarkRead struct{ ID string }

type MarkAllRead struct{}

type Remove struct{ ID string }

type Clear struct{}

func (Add) command()         {}
func (MarkRead) command()    {}
func (MarkAllRead) command() {}
func (Remove) command()      {}
func (Clear) command()       {}

// Reduce returns the state after cmd. It never mutates state.
func Reduce(state State, cmd Command) State {
	switch c := cmd.(type) {
	case Add:
		if c.Notification.ID == "" || indexOf(state.Items, c.Notification.ID) >= 0 {
			return state
		}
		items := make([]models.Notification, 0, len(state.Items)+1)
		items = append(items, c.Notification)
		items = append(items, state.Items...)
		if len(items) > MaxItems {
			items = items[:MaxItems]
		}
		return withItems(items)

	case MarkRead:
		i := indexOf(state.Items, c.ID)
		if i < 0 || state.Items[i].Read {
			return state
		}
		items := copyItems(state.Items)
		items[i].Read = true
		return withItems(items)

	case MarkAllRead:
		if state.Unread == 0 {
			return state
		}
		items := copyItems(state.Items)
		for i := range items {
			items[i].Read = true
		}
		return withItems(items)

	case Remove:
		i := indexOf(state.Items, c.ID)
		if i < 0 {
			return state
		}
		items := make([]models.Notification, 0, len(state.Items)-1)
		items = append(items, state.Items[:i]...)
		items = append(items, state.Items[i+1:]...)
		return withItems(items)

	case Clear:
		return State{Items: []models.Notification{}}
	}
	return state
}

func withItems(items []models.Notification) State {
	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	return State{Items: items, Unread: unread}
}

func copyItems(items []models.Notification) []models.Notification {
	return append([]models.Notification(nil), items...)
}

func indexOf(items []models.Notification, id string) int {
	for i, n := range items {
		if n.ID == id {
			return i
		}
	}
	return -1
}
