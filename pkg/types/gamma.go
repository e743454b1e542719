package types

import (
	"encoding/json"
	"strings"
)

// GammaEvent is one event from the Gamma /events endpoint. Updown windows
// are modeled as events with a single nested binary market.
type GammaEvent struct {
	ID      string        `json:"id"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	EndDate string        `json:"endDate"`
	Closed  bool          `json:"closed"`
	Markets []GammaMarket `json:"markets"`
}

// GammaMarket is the nested market payload carrying the CLOB identifiers.
type GammaMarket struct {
	ConditionID     string  `json:"conditionId"`
	Question        string  `json:"question"`
	EndDateISO      string  `json:"endDateIso"`
	Closed          bool    `json:"closed"`
	AcceptingOrders bool    `json:"acceptingOrders"`
	Outcomes        string  `json:"outcomes"`     // JSON string: "[\"Up\", \"Down\"]"
	ClobTokenIDs    string  `json:"clobTokenIds"` // JSON string: "[\"123…\", \"456…\"]"
	MinTickSize     flexNum `json:"orderPriceMinTickSize"`
	Tokens          []Token `json:"-"` // populated from Outcomes + ClobTokenIDs
}

// flexNum accepts a JSON number or a quoted number; Gamma emits both
// depending on market age.
type flexNum string

func (f *flexNum) UnmarshalJSON(data []byte) error {
	*f = flexNum(strings.Trim(string(data), `"`))
	return nil
}

// String returns the raw decimal text, empty when the field was absent.
func (f flexNum) String() string { return string(f) }

// UnmarshalJSON pairs outcomes with clobTokenIds into Tokens.
func (m *GammaMarket) UnmarshalJSON(data []byte) error {
	type Alias GammaMarket
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if m.Outcomes != "" && m.ClobTokenIDs != "" {
		var outcomes []string
		var tokenIDs []string

		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil {
			if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err == nil {
				m.Tokens = make([]Token, 0, len(outcomes))
				for i, outcome := range outcomes {
					if i < len(tokenIDs) {
						m.Tokens = append(m.Tokens, Token{
							TokenID: tokenIDs[i],
							Outcome: outcome,
						})
					}
				}
			}
		}
	}

	return nil
}

// Token is one outcome token of a binary market.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// TokenBySide maps the updown outcome names onto the measurement sides:
// Up/Yes → YES, Down/No → NO. Returns nil when no outcome matches.
func (m *GammaMarket) TokenBySide(side Side) *Token {
	for i := range m.Tokens {
		outcome := strings.ToLower(m.Tokens[i].Outcome)
		switch side {
		case SideYes:
			if outcome == "up" || outcome == "yes" {
				return &m.Tokens[i]
			}
		case SideNo:
			if outcome == "down" || outcome == "no" {
				return &m.Tokens[i]
			}
		}
	}
	return nil
}
