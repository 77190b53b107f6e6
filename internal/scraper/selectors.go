package scraper

// Selectors locate the parts of the map application the scraper touches. All
// values are CSS selectors except RatingAttr.
type Selectors struct {
	SearchInput  string `mapstructure:"search_input"`
	SearchButton string `mapstructure:"search_button"`
	Panel        string `mapstructure:"panel"`
	Item         string `mapstructure:"item"`

	Name       string `mapstructure:"name"`
	Address    string `mapstructure:"address"`
	Rating     string `mapstructure:"rating"`
	RatingAttr string `mapstructure:"rating_attr"`

	// Consent buttons are tried in order; the first one present is clicked.
	Consent []string `mapstructure:"consent"`
}

// DefaultSelectors returns the selectors for the Google Maps web client.
func DefaultSelectors() Selectors {
	return Selectors{
		SearchInput:  "#searchboxinput",
		SearchButton: "#searchbox-searchbutton",
		Panel:        `div[role="region"][aria-label]`,
		Item:         `div[role="article"]`,

		Name:       "h3",
		Address:    "span.section-result-location",
		Rating:     `span[aria-label*="Stars"], span[aria-label*="stars"]`,
		RatingAttr: "aria-label",

		Consent: []string{
			`button[aria-label="Accept all"]`,
			`button[aria-label="Reject all"]`,
			`form[action*="consent"] button`,
		},
	}
}

// withDefaults fills every empty selector from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&s.SearchInput, d.SearchInput)
	fill(&s.SearchButton, d.SearchButton)
	fill(&s.Panel, d.Panel)
	fill(&s.Item, d.Item)
	fill(&s.Name, d.Name)
	fill(&s.Address, d.Address)
	fill(&s.Rating, d.Rating)
	fill(&s.RatingAttr, d.RatingAttr)
	if len(s.Consent) == 0 {
		s.Consent = d.Consent
	}
	return s
}
