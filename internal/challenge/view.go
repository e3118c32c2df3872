package challenge

// CardView is a card plus its derived display flags.
type CardView struct {
	Card
	Index     int  `json:"index"`
	Revealed  bool `json:"revealed"`
	CanReveal bool `json:"canReveal"`
	Locked    bool `json:"locked"`
}

// Views derives the display flags for every card. Only the first
// incomplete card (or the revealed one) can be revealed; later incomplete
// cards are locked. Title and description stay hidden until a card is
// revealed or completed.
func (s State) Views() []CardView {
	first := s.FirstIncomplete()
	out := make([]CardView, 0, len(s.Cards))
	for i, c := range s.Cards {
		revealed := s.Revealed == c.AssignmentID
		v := CardView{
			Card:      c,
			Index:     i,
			Revealed:  revealed,
			CanReveal: !c.Completed && (i == first || revealed),
			Locked:    !c.Completed && first < i && !revealed,
		}
		if !c.Completed && !revealed {
			v.Title = ""
			v.Description = ""
			v.SuccessMetric = ""
		}
		out = append(out, v)
	}
	return out
}

// Reload replaces the cards with a fresh load, keeping the revealed card
// when it is still present and incomplete.
func (s State) Reload(cards []Card) State {
	next := State{Cards: append([]Card(nil), cards...)}
	if i := next.index(s.Revealed); i >= 0 && !next.Cards[i].Completed {
		next.Revealed = s.Revealed
	}
	return next
}
