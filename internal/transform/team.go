package transform

import (
	"sort"

	"agoraetl/internal/nest"
	"agoraetl/internal/table"
)

// teamInfo nests team members per team, with fields in name order and
// missing values as "", and left-joins them onto the team metadata.
func teamInfo(in Inputs, _ Params) (Result, error) {
	ts, err := in.Require(TeamInfo, "team_info", "team_member_info")
	if err != nil {
		return Result{}, err
	}
	teams, members := ts[0], ts[1]
	if err := members.Require("team_member_info", "team"); err != nil {
		return Result{}, err
	}

	fields := members.Drop("team").Columns()
	sort.Strings(fields)
	members, err = members.Select(append([]string{"team"}, fields...)...)
	if err != nil {
		return Result{}, err
	}
	nested, err := nest.Fields(members, nest.Spec{
		Grouping: []string{"team"},
		NewField: "members",
		AsList:   true,
		Nulls:    nest.EmptyString,
	})
	if err != nil {
		return Result{}, err
	}
	out, err := table.Merge(teams, nested, []string{"team"}, table.MergeOptions{
		How:  table.Left,
		Name: "team_member_info",
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Table: out}, nil
}
