package types

type AdminRank string

const (
	RankMember     AdminRank = ""
	RankAdmin      AdminRank = "admin"
	RankSuperAdmin AdminRank = "superadmin"
)

type Participant struct {
	ID string `json:"id"`
	// Phone number jid when ID is a hidden (lid) identity.
	PhoneNumber string    `json:"phone_number,omitempty"`
	Admin       AdminRank `json:"admin,omitempty"`
}

func (p *Participant) IsAdmin() bool {
	return p != nil && p.Admin != RankMember
}

type GroupMeta struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Owner        string        `json:"owner,omitempty"`
	Participants []Participant `json:"participants"`
}

// Find returns the first participant matching any of ids, by user part.
func (g *GroupMeta) Find(ids ...string) *Participant {
	if g == nil {
		return nil
	}
	for i := range g.Participants {
		p := &g.Participants[i]
		for _, id := range ids {
			if SameUser(p.ID, id) || SameUser(p.PhoneNumber, id) {
				return p
			}
		}
	}
	return nil
}
