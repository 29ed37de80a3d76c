package types

// MarketMapping binds a binary market to its esports match and fixes the
// team-to-side orientation: YES pays out when TeamYesID wins.
type MarketMapping struct {
	MarketID   string `yaml:"market_id"`
	MatchID    string `yaml:"match_id"`
	Slug       string `yaml:"slug"`
	Game       string `yaml:"game"`
	YesTokenID string `yaml:"yes_token_id"`
	NoTokenID  string `yaml:"no_token_id"`
	TeamYesID  string `yaml:"team_yes_id"`
	TeamNoID   string `yaml:"team_no_id"`
}

// SideForWinner returns the winning side of this market for a team id.
// ok is false when the team plays no part in the market.
func (m *MarketMapping) SideForWinner(teamID string) (Side, bool) {
	switch teamID {
	case m.TeamYesID:
		return SideYes, true
	case m.TeamNoID:
		return SideNo, true
	}

	return "", false
}
