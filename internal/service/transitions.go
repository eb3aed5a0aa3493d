package service

import "github.com/iliyamo/citizen-report/internal/model"

// Who a transition rule applies to.
type party int

const (
	partyOwner party = iota
	partyStaff       // department staff of the report's category, or admin
)

type edge struct {
	from, to model.Status
}

// transitionRules is the allowed lifecycle graph per party. Anything not
// listed is rejected; resolved and cancelled have no outgoing edges.
var transitionRules = map[party]map[edge]bool{
	partyOwner: {
		{model.StatusSubmitted, model.StatusCancelled}:  true,
		{model.StatusRouted, model.StatusCancelled}:     true,
		{model.StatusInProgress, model.StatusCancelled}: true,
	},
	partyStaff: {
		{model.StatusSubmitted, model.StatusInProgress}: true,
		{model.StatusRouted, model.StatusInProgress}:    true,
		{model.StatusEscalated, model.StatusInProgress}: true,

		{model.StatusSubmitted, model.StatusResolved}:  true,
		{model.StatusRouted, model.StatusResolved}:     true,
		{model.StatusInProgress, model.StatusResolved}: true,
		{model.StatusEscalated, model.StatusResolved}:  true,

		{model.StatusSubmitted, model.StatusEscalated}:  true,
		{model.StatusRouted, model.StatusEscalated}:     true,
		{model.StatusInProgress, model.StatusEscalated}: true,
	},
}

// IsTerminal reports whether no caller may move a report out of s.
func IsTerminal(s model.Status) bool {
	return s == model.StatusResolved || s == model.StatusCancelled
}

// CanTransition reports whether a caller may move a report of the given
// category from one status to another. isOwner says whether the caller filed
// the report.
func CanTransition(actor model.Actor, isOwner bool, category model.Category, from, to model.Status) bool {
	e := edge{from, to}
	if isOwner && transitionRules[partyOwner][e] {
		return true
	}
	if actor.IsAdmin() || actor.Handles(category) {
		return transitionRules[partyStaff][e]
	}
	return false
}
